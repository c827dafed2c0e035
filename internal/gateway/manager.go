package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"portsync/internal/config"
	"portsync/pkg/utils"
)

// ============================================================
// ConnectionManager: единственная сессия со шлюзом на процесс
// ============================================================

// Session - одно аутентифицированное соединение со шлюзом
//
// Владелец сессии - ConnectionManager, наружу сессия не отдаётся.
type Session struct {
	conn        Conn
	clientID    int
	connectedAt time.Time

	// Unix-наносекунды последней активности (atomic)
	lastActivity int64

	// закрывается при разрыве сессии
	done chan struct{}

	closeOnce sync.Once
}

func (s *Session) touch(now time.Time) {
	atomic.StoreInt64(&s.lastActivity, now.UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, atomic.LoadInt64(&s.lastActivity)))
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// connectAttempt - общая попытка подключения
//
// Если подключение уже идёт, конкурентные вызовы Connect ждут завершения
// этой же попытки вместо запуска второй.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Manager владеет единственной сессией со шлюзом
//
// Гарантии:
//   - в любой момент существует не более одной сессии;
//   - конкурентные Connect разделяют одну попытку подключения;
//   - между последовательными попытками выдерживается минимальный интервал;
//   - сессия без активности дольше IdleTimeout разрывается автоматически.
type Manager struct {
	cfg  config.GatewayConfig
	dial Dialer
	log  *utils.Logger

	mu          sync.Mutex
	sess        *Session
	attempt     *connectAttempt
	lastAttempt time.Time
	closed      bool

	// Маршрутизация входящих кадров (устанавливает Client)
	onFrame func(*Frame)
	// Вызывается перед разрывом сессии: отмена подписок и pending запросов
	beforeDisconnect func()
	// Уведомление о неожиданном разрыве
	onDisconnect func(error)
	cbMu         sync.RWMutex

	// Подменяется в тестах
	now func() time.Time
}

// NewManager создаёт менеджер соединения
//
// dial == nil означает боевой WebSocket транспорт.
func NewManager(cfg config.GatewayConfig, dial Dialer, log *utils.Logger) *Manager {
	if dial == nil {
		dial = DialWS
	}
	return &Manager{
		cfg:  cfg,
		dial: dial,
		log:  log.WithComponent("gateway.manager"),
		now:  time.Now,
	}
}

// SetFrameHandler устанавливает обработчик входящих кадров
func (m *Manager) SetFrameHandler(fn func(*Frame)) {
	m.cbMu.Lock()
	m.onFrame = fn
	m.cbMu.Unlock()
}

// SetBeforeDisconnect устанавливает hook, вызываемый перед разрывом
func (m *Manager) SetBeforeDisconnect(fn func()) {
	m.cbMu.Lock()
	m.beforeDisconnect = fn
	m.cbMu.Unlock()
}

// SetOnDisconnect устанавливает уведомление о неожиданном разрыве
func (m *Manager) SetOnDisconnect(fn func(error)) {
	m.cbMu.Lock()
	m.onDisconnect = fn
	m.cbMu.Unlock()
}

// Connected сообщает, есть ли живая сессия
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// EnsureConnected гарантирует живую сессию
//
// No-op при активной сессии. Если попытка подключения уже идёт,
// вызов ждёт её результата.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	if m.sess != nil {
		m.mu.Unlock()
		return nil
	}

	if m.attempt != nil {
		// Присоединяемся к чужой попытке; решение о повторе после
		// retryable-ошибки остаётся за вызывающим (retry.Do)
		attempt := m.attempt
		m.mu.Unlock()

		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	m.attempt = attempt
	m.mu.Unlock()

	return m.runConnect(ctx, attempt)
}

// runConnect выполняет одну попытку подключения и публикует результат
func (m *Manager) runConnect(ctx context.Context, attempt *connectAttempt) error {
	err := m.doConnect(ctx)

	m.mu.Lock()
	attempt.err = err
	m.attempt = nil
	m.mu.Unlock()
	close(attempt.done)

	return err
}

func (m *Manager) doConnect(ctx context.Context) error {
	// Минимальный интервал между попытками: не долбим шлюз
	if err := m.waitConnectInterval(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastAttempt = m.now()
	m.mu.Unlock()

	url := m.cfg.GatewayURL()
	m.log.Info("connecting to gateway",
		utils.String("url", url),
		utils.Int("client_id", m.cfg.ClientID))

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dial(dialCtx, url)
	if err != nil {
		ConnectAttempts.WithLabelValues("dial_error").Inc()
		if dialCtx.Err() != nil {
			return ErrConnectTimeout
		}
		return err
	}

	sess, err := m.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	ConnectAttempts.WithLabelValues("success").Inc()
	ConnectedGauge.Set(1)
	m.log.Info("gateway session established",
		utils.Int("client_id", sess.clientID))

	go m.readPump(sess)
	go m.keepAlive(sess)

	return nil
}

// handshake отправляет connect и ждёт подтверждения или фатальной ошибки
func (m *Manager) handshake(ctx context.Context, conn Conn) (*Session, error) {
	err := conn.WriteFrame(&Frame{
		Type:     MsgConnect,
		Host:     m.cfg.Host,
		Port:     m.cfg.Port,
		ClientID: m.cfg.ClientID,
	})
	if err != nil {
		ConnectAttempts.WithLabelValues("handshake_error").Inc()
		return nil, err
	}

	type readResult struct {
		frame *Frame
		err   error
	}
	resultChan := make(chan readResult, 1)

	go func() {
		for {
			f, err := conn.ReadFrame()
			if err != nil {
				resultChan <- readResult{err: err}
				return
			}
			switch f.Type {
			case MsgConnected:
				resultChan <- readResult{frame: f}
				return
			case MsgError:
				if f.Code == CodeClientIDInUse {
					resultChan <- readResult{err: ErrClientIDInUse}
					return
				}
				// Прочие ошибки на этапе handshake только логируем:
				// шлюз шлёт информационные коды до подтверждения
				utils.Warn("gateway error during handshake",
					utils.ErrorCode(f.Code),
					utils.String("message", f.Message))
			}
		}
	}()

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case res := <-resultChan:
		if res.err != nil {
			if res.err == ErrClientIDInUse {
				ConnectAttempts.WithLabelValues("client_id_in_use").Inc()
			} else {
				ConnectAttempts.WithLabelValues("handshake_error").Inc()
			}
			return nil, res.err
		}
	case <-timer.C:
		ConnectAttempts.WithLabelValues("timeout").Inc()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	now := m.now()
	sess := &Session{
		conn:        conn,
		clientID:    m.cfg.ClientID,
		connectedAt: now,
		done:        make(chan struct{}),
	}
	sess.touch(now)

	return sess, nil
}

// waitConnectInterval выдерживает минимальный интервал между попытками
func (m *Manager) waitConnectInterval(ctx context.Context) error {
	m.mu.Lock()
	elapsed := m.now().Sub(m.lastAttempt)
	m.mu.Unlock()

	if m.lastAttempt.IsZero() || elapsed >= m.cfg.MinConnectInterval {
		return nil
	}

	wait := m.cfg.MinConnectInterval - elapsed
	m.log.Debug("throttling connect attempt", utils.String("wait", wait.String()))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump читает кадры сессии и передаёт их обработчику
func (m *Manager) readPump(sess *Session) {
	for {
		f, err := sess.conn.ReadFrame()
		if err != nil {
			select {
			case <-sess.done:
				// штатное закрытие
				return
			default:
			}
			m.log.Warn("gateway read failed", utils.Err(err))
			m.teardown(sess, err)
			return
		}

		sess.touch(m.now())
		FramesReceived.WithLabelValues(f.Type).Inc()

		m.cbMu.RLock()
		handler := m.onFrame
		m.cbMu.RUnlock()

		if handler != nil {
			handler(f)
		}
	}
}

// keepAlive пингует шлюз и разрывает простаивающую сессию
func (m *Manager) keepAlive(sess *Session) {
	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			now := m.now()

			if sess.idleSince(now) >= m.cfg.IdleTimeout {
				m.log.Info("gateway session idle, tearing down",
					utils.String("idle", sess.idleSince(now).String()))
				m.Disconnect()
				return
			}

			if err := sess.conn.WriteFrame(&Frame{Type: MsgPing}); err != nil {
				m.log.Warn("keep-alive ping failed", utils.Err(err))
				m.teardown(sess, err)
				return
			}
		}
	}
}

// teardown убирает сессию после неожиданного разрыва
func (m *Manager) teardown(sess *Session, cause error) {
	m.mu.Lock()
	if m.sess != sess {
		// уже заменена или убрана
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.mu.Unlock()

	m.cbMu.RLock()
	before := m.beforeDisconnect
	onDisc := m.onDisconnect
	m.cbMu.RUnlock()

	if before != nil {
		before()
	}
	sess.close()
	ConnectedGauge.Set(0)

	if onDisc != nil {
		onDisc(cause)
	}
}

// Send отправляет кадр через активную сессию
func (m *Manager) Send(f *Frame) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}

	sess.touch(m.now())
	return sess.conn.WriteFrame(f)
}

// Disconnect разрывает сессию
//
// Идемпотентен. Сначала отменяются активные подписки и запросы,
// затем освобождается сессия.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()

	if sess == nil {
		return
	}

	m.cbMu.RLock()
	before := m.beforeDisconnect
	m.cbMu.RUnlock()

	if before != nil {
		before()
	}

	sess.close()
	ConnectedGauge.Set(0)
	m.log.Info("gateway session closed")
}

// Close останавливает менеджер окончательно
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Disconnect()
}
