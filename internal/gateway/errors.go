package gateway

import (
	"errors"
	"fmt"
)

// Ошибки уровня соединения и запросов
var (
	// ErrConnectTimeout - шлюз недоступен, handshake не завершился вовремя
	ErrConnectTimeout = errors.New("gateway connect timeout")

	// ErrClientIDInUse - клиентский идентификатор занят другим процессом.
	// Требует вмешательства оператора, retry не поможет.
	ErrClientIDInUse = errors.New("gateway client id already in use")

	// ErrNotConnected - операция требует активной сессии
	ErrNotConnected = errors.New("gateway not connected")

	// ErrSessionClosed - сессия разорвана во время операции
	ErrSessionClosed = errors.New("gateway session closed")

	// ErrRequestTimeout - отдельный запрос не дождался терминального события
	ErrRequestTimeout = errors.New("gateway request timeout")

	// ErrManagerClosed - менеджер остановлен, новые подключения невозможны
	ErrManagerClosed = errors.New("gateway connection manager closed")
)

// GatewayError - ошибка, присланная шлюзом в кадре типа "error"
type GatewayError struct {
	Code    int
	Message string
	ReqID   int64
}

func (e *GatewayError) Error() string {
	if e.ReqID > 0 {
		return fmt.Sprintf("gateway error %d (reqId=%d): %s", e.Code, e.ReqID, e.Message)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// Retryable сообщает retry-слою, имеет ли смысл повторять операцию
func (e *GatewayError) Retryable() bool {
	return e.Code != CodeClientIDInUse
}

// IsFatalConnect проверяет, фатальна ли ошибка для попытки подключения
func IsFatalConnect(err error) bool {
	return errors.Is(err, ErrClientIDInUse)
}
