package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Тесты ConnectionManager
// ============================================================

func TestManager_Connect(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), dialer.dial, testLogger())
	defer mgr.Close()

	if err := mgr.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	if !mgr.Connected() {
		t.Fatal("expected connected state")
	}

	// Handshake: кадр connect с client id
	connects := dialer.lastConn().writesOf(MsgConnect)
	if len(connects) != 1 {
		t.Fatalf("expected 1 connect frame, got %d", len(connects))
	}
	if connects[0].ClientID != 11 {
		t.Errorf("expected clientId=11, got %d", connects[0].ClientID)
	}
}

func TestManager_ConnectIsNoOpWhenConnected(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), dialer.dial, testLogger())
	defer mgr.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := mgr.EnsureConnected(ctx); err != nil {
			t.Fatalf("EnsureConnected %d failed: %v", i, err)
		}
	}

	if dialer.dialCount() != 1 {
		t.Errorf("expected 1 dial, got %d", dialer.dialCount())
	}
}

func TestManager_SingleSessionInvariant(t *testing.T) {
	// Конкурентные Connect должны разделить одну попытку подключения
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), dialer.dial, testLogger())
	defer mgr.Close()

	var wg sync.WaitGroup
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.EnsureConnected(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d failed: %v", i, err)
		}
	}

	if dialer.dialCount() != 1 {
		t.Errorf("expected exactly 1 dial for 10 concurrent callers, got %d", dialer.dialCount())
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	// Соединение устанавливается, но шлюз не подтверждает handshake
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), func(ctx context.Context, url string) (Conn, error) {
		conn, _ := dialer.dial(ctx, url)
		conn.(*fakeConn).setOnWrite(nil) // молчим в ответ на connect
		return conn, nil
	}, testLogger())
	defer mgr.Close()

	err := mgr.EnsureConnected(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
	if mgr.Connected() {
		t.Error("expected disconnected state after timeout")
	}
}

func TestManager_ClientIDConflict(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), func(ctx context.Context, url string) (Conn, error) {
		conn, _ := dialer.dial(ctx, url)
		fc := conn.(*fakeConn)
		fc.setOnWrite(func(f *Frame) {
			if f.Type == MsgConnect {
				fc.push(&Frame{Type: MsgError, Code: CodeClientIDInUse, Message: "client id is already in use"})
			}
		})
		return conn, nil
	}, testLogger())
	defer mgr.Close()

	err := mgr.EnsureConnected(context.Background())
	if !errors.Is(err, ErrClientIDInUse) {
		t.Fatalf("expected ErrClientIDInUse, got %v", err)
	}
	if !IsFatalConnect(err) {
		t.Error("client id conflict must be fatal for the connect attempt")
	}
}

func TestManager_MinConnectInterval(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.MinConnectInterval = 80 * time.Millisecond

	dialer := &fakeDialer{err: errors.New("gateway unreachable")}
	mgr := NewManager(cfg, dialer.dial, testLogger())
	defer mgr.Close()

	ctx := context.Background()
	_ = mgr.EnsureConnected(ctx)

	start := time.Now()
	_ = mgr.EnsureConnected(ctx)
	elapsed := time.Since(start)

	if elapsed < 60*time.Millisecond {
		t.Errorf("expected second attempt delayed ~80ms, waited %v", elapsed)
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), dialer.dial, testLogger())

	if err := mgr.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	beforeCalls := 0
	mgr.SetBeforeDisconnect(func() { beforeCalls++ })

	mgr.Disconnect()
	mgr.Disconnect()
	mgr.Disconnect()

	if mgr.Connected() {
		t.Error("expected disconnected state")
	}
	if beforeCalls != 1 {
		t.Errorf("expected beforeDisconnect called once, got %d", beforeCalls)
	}
}

func TestManager_ReadFailureTearsDownSession(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), dialer.dial, testLogger())
	defer mgr.Close()

	if err := mgr.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	disconnected := make(chan error, 1)
	mgr.SetOnDisconnect(func(err error) { disconnected <- err })

	// Обрыв транспорта снаружи
	_ = dialer.lastConn().Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("expected onDisconnect notification after transport failure")
	}

	if mgr.Connected() {
		t.Error("expected session removed after read failure")
	}
}

func TestManager_ReconnectAfterFailure(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testGatewayConfig(), dialer.dial, testLogger())
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.EnsureConnected(ctx); err != nil {
		t.Fatalf("first connect failed: %v", err)
	}

	disconnected := make(chan error, 1)
	mgr.SetOnDisconnect(func(err error) { disconnected <- err })
	_ = dialer.lastConn().Close()
	<-disconnected

	if err := mgr.EnsureConnected(ctx); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if dialer.dialCount() != 2 {
		t.Errorf("expected 2 dials, got %d", dialer.dialCount())
	}
}
