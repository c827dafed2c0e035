package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"portsync/internal/config"
	"portsync/pkg/utils"
)

// fakeConn - скриптуемый транспорт для тестов шлюзового слоя
//
// Ответы задаются через onWrite: колбэк видит каждый исходящий кадр
// и кладёт входящие кадры в incoming.
type fakeConn struct {
	mu        sync.Mutex
	incoming  chan *Frame
	written   []*Frame
	onWrite   func(*Frame)
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan *Frame, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) push(f *Frame) {
	select {
	case c.incoming <- f:
	case <-c.closed:
	}
}

func (c *fakeConn) ReadFrame() (*Frame, error) {
	select {
	case f := <-c.incoming:
		return f, nil
	case <-c.closed:
		return nil, errors.New("fake connection closed")
	}
}

func (c *fakeConn) WriteFrame(f *Frame) error {
	select {
	case <-c.closed:
		return errors.New("fake connection closed")
	default:
	}

	c.mu.Lock()
	c.written = append(c.written, f)
	cb := c.onWrite
	c.mu.Unlock()

	if cb != nil {
		cb(f)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// writesOf возвращает записанные кадры указанного типа
func (c *fakeConn) writesOf(frameType string) []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Frame
	for _, f := range c.written {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// acceptConnect - стандартный скрипт: подтверждаем handshake
func (c *fakeConn) acceptConnect() {
	c.mu.Lock()
	prev := c.onWrite
	c.mu.Unlock()

	c.setOnWrite(func(f *Frame) {
		if f.Type == MsgConnect {
			c.push(&Frame{Type: MsgConnected})
			return
		}
		if prev != nil {
			prev(f)
		}
	})
}

func (c *fakeConn) setOnWrite(fn func(*Frame)) {
	c.mu.Lock()
	c.onWrite = fn
	c.mu.Unlock()
}

// fakeDialer считает подключения и раздаёт подготовленные соединения
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
	err   error
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.err != nil {
		return nil, d.err
	}

	conn := newFakeConn()
	conn.acceptConnect()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Host:               "127.0.0.1",
		Port:               7497,
		ClientID:           11,
		ConnectTimeout:     200 * time.Millisecond,
		MinConnectInterval: 0,
		KeepAliveInterval:  time.Hour,
		IdleTimeout:        time.Hour,
		RequestTimeout:     200 * time.Millisecond,
		CancelGrace:        5 * time.Millisecond,
	}
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error", Format: "console"})
}
