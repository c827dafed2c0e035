package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn - транспорт одного соединения со шлюзом
//
// Интерфейс выделен ради тестов: компоненты движка работают с Conn,
// а не с *websocket.Conn напрямую, поэтому в тестах сессию можно
// заменить скриптованным фейком.
type Conn interface {
	// ReadFrame блокируется до следующего входящего кадра
	ReadFrame() (*Frame, error)

	// WriteFrame отправляет кадр; безопасен для конкурентных вызовов
	WriteFrame(f *Frame) error

	// Close разрывает соединение
	Close() error
}

// Dialer устанавливает транспортное соединение со шлюзом
type Dialer func(ctx context.Context, url string) (Conn, error)

// ============================================================
// WebSocket реализация
// ============================================================

const (
	writeTimeout = 10 * time.Second

	// Лимит размера входящего кадра. Кадры портфеля маленькие,
	// лимит защищает от повреждённого потока.
	maxFrameSize = 1 << 20
)

// wsConn оборачивает gorilla/websocket соединение
//
// gorilla/websocket не допускает конкурентные WriteMessage,
// поэтому записи сериализуются мьютексом.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

var _ Conn = (*wsConn)(nil)

// DialWS устанавливает WebSocket соединение со шлюзом
func DialWS(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", url, err)
	}

	ws.SetReadLimit(maxFrameSize)

	return &wsConn{ws: ws}, nil
}

func (c *wsConn) ReadFrame() (*Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeFrame(data)
}

func (c *wsConn) WriteFrame(f *Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame %s: %w", f.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	// best effort: сообщаем шлюзу о закрытии
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.ws.Close()
}
