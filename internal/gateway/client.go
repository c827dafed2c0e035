package gateway

import (
	"context"
	"strconv"
	"time"

	"portsync/internal/config"
	"portsync/pkg/ratelimit"
	"portsync/pkg/utils"
)

// ============================================================
// Client: фасад шлюзового слоя
// ============================================================

// Client собирает менеджер соединения, координатор запросов и
// потоковую подписку в единый фасад
//
// Маршрутизация входящих кадров:
//  1. кадры с reqId уходят в координатор;
//  2. кадры потока счёта (accountValue/portfolioPosition/downloadEnd) в Feed;
//  3. кадры error без reqId обрабатываются глобально: pacing-коды
//     включают cooldown у RateThrottle.
type Client struct {
	mgr      *Manager
	coord    *Coordinator
	feed     *Feed
	throttle *ratelimit.Throttle
	log      *utils.Logger
}

// NewClient создаёт фасад шлюза
//
// dial == nil означает боевой WebSocket транспорт.
func NewClient(cfg config.GatewayConfig, throttle *ratelimit.Throttle, dial Dialer, log *utils.Logger) *Client {
	mgr := NewManager(cfg, dial, log)
	c := &Client{
		mgr:      mgr,
		coord:    NewCoordinator(mgr, cfg.RequestTimeout, cfg.CancelGrace, log),
		feed:     NewFeed(mgr, log),
		throttle: throttle,
		log:      log.WithComponent("gateway.client"),
	}

	mgr.SetFrameHandler(c.handleFrame)
	mgr.SetBeforeDisconnect(func() {
		c.feed.Unsubscribe()
		c.coord.CancelAll()
	})

	return c
}

// handleFrame - единая точка маршрутизации входящих кадров
func (c *Client) handleFrame(f *Frame) {
	// Кадры с reqId принадлежат конкретному pending запросу
	if c.coord.HandleFrame(f) {
		return
	}

	if c.feed.HandleFrame(f) {
		return
	}

	switch f.Type {
	case MsgError:
		c.handleError(f)
	case MsgDisconnected:
		c.log.Warn("gateway announced disconnect", utils.String("message", f.Message))
	case MsgPong:
		// активность уже отмечена в read pump
	default:
		c.log.Debug("unhandled gateway frame", utils.String("type", f.Type))
	}
}

// handleError обрабатывает глобальные ошибки шлюза
func (c *Client) handleError(f *Frame) {
	if PacingCode(f.Code) {
		CooldownTriggered.WithLabelValues(strconv.Itoa(f.Code)).Inc()
		c.throttle.TriggerCooldown(f.Message)
		c.log.Warn("pacing violation, cooldown engaged",
			utils.ErrorCode(f.Code),
			utils.String("message", f.Message))
		return
	}

	c.log.Warn("gateway error",
		utils.ErrorCode(f.Code),
		utils.String("message", f.Message))
}

// EnsureConnected гарантирует живую сессию со шлюзом
func (c *Client) EnsureConnected(ctx context.Context) error {
	return c.mgr.EnsureConnected(ctx)
}

// Connected сообщает, есть ли живая сессия
func (c *Client) Connected() bool {
	return c.mgr.Connected()
}

// Disconnect разрывает сессию (идемпотентен)
func (c *Client) Disconnect() {
	c.mgr.Disconnect()
}

// Close останавливает шлюзовой слой
func (c *Client) Close() {
	c.mgr.Close()
}

// Subscribe открывает поток счёта и ждёт полного download
func (c *Client) Subscribe(ctx context.Context, accountID string, timeout time.Duration) (*RawSnapshot, error) {
	return c.feed.Subscribe(ctx, accountID, timeout)
}

// Unsubscribe закрывает поток счёта
func (c *Client) Unsubscribe() {
	c.feed.Unsubscribe()
}

// AccountSummary запрашивает сводку по счетам
func (c *Client) AccountSummary(ctx context.Context, scope string, tags []string) ([]AccountValue, error) {
	return c.coord.AccountSummary(ctx, scope, tags)
}

// ContractDetails запрашивает справочные атрибуты контракта
//
// Проходит через RateThrottle: шлюз жёстко лимитирует справочный канал.
func (c *Client) ContractDetails(ctx context.Context, conID int64) (*WireContractDetails, error) {
	if err := c.throttle.CheckAndReserve(ctx, ratelimit.KindContractDetails); err != nil {
		return nil, err
	}
	return c.coord.ContractDetails(ctx, conID)
}

// HistoricalBars запрашивает серию исторических баров
func (c *Client) HistoricalBars(
	ctx context.Context,
	contract *WireContract,
	duration, barSize, whatToShow string,
	useRTH bool,
) ([]WireBar, error) {
	if err := c.throttle.CheckAndReserve(ctx, ratelimit.KindHistoricalData); err != nil {
		return nil, err
	}
	return c.coord.HistoricalBars(ctx, contract, duration, barSize, whatToShow, useRTH)
}

// TickSnapshot снимает котировку через короткую тиковую подписку
func (c *Client) TickSnapshot(ctx context.Context, contract *WireContract) (*TickSnapshotResult, error) {
	if err := c.throttle.CheckAndReserve(ctx, ratelimit.KindTickSnapshot); err != nil {
		return nil, err
	}
	return c.coord.TickSnapshot(ctx, contract)
}
