package gateway

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"portsync/pkg/utils"
)

// ============================================================
// RequestCoordinator: одиночные request/response обмены
// ============================================================

// Фиксированный идентификатор канала account summary
//
// Канал синглтонный: фиксированный id делает отмену устаревшей
// подписки детерминированной между циклами.
const AccountSummaryReqID = 9000

// Логические каналы шлюза
//
// Шлюз не поддерживает перекрывающиеся запросы на одном канале,
// поэтому каждый канал защищён однослотовым семафором.
const (
	ChannelAccountSummary  = "account_summary"
	ChannelContractDetails = "contract_details"
	ChannelHistoricalData  = "historical_data"
	ChannelMarketDataTick  = "market_data_tick"
)

// AccountValue - одна строка ответа account summary
type AccountValue struct {
	Account  string
	Tag      string
	Value    string
	Currency string
}

// TickSnapshotResult - снимок тиков для котировки облигации
type TickSnapshotResult struct {
	Last      float64
	PrevClose float64
	Bid       float64
	Ask       float64
}

// HasPrice сообщает, достаточно ли данных для расчёта изменения за день
func (t *TickSnapshotResult) HasPrice() bool {
	return (t.Last > 0 || t.Bid > 0 || t.Ask > 0) && t.PrevClose > 0
}

// EffectiveLast возвращает last с откатом на bid/ask
func (t *TickSnapshotResult) EffectiveLast() float64 {
	if t.Last > 0 {
		return t.Last
	}
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	if t.Bid > 0 {
		return t.Bid
	}
	return t.Ask
}

// pendingRequest - один незавершённый обмен
//
// Завершение строго однократное: sync.Once закрывает done и фиксирует
// ошибку независимо от того, какой путь пришёл первым - терминальное
// событие, таймаут или отмена.
type pendingRequest struct {
	id   int64
	kind string

	// Возвращает true, когда пришло терминальное событие
	onFrame func(*Frame) bool

	done chan struct{}
	once sync.Once
	err  error
}

func (p *pendingRequest) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Coordinator выдаёт request/response обмены через общую сессию
//
// На каждом логическом канале - не более одного запроса одновременно.
type Coordinator struct {
	mgr *Manager
	log *utils.Logger

	// Таймаут обмена по умолчанию
	requestTimeout time.Duration
	// Ожидание применения протокольного cancel (cancel-ack у шлюза нет)
	cancelGrace time.Duration

	mu      sync.Mutex
	pending map[int64]*pendingRequest

	// Однослотовые семафоры каналов
	slots map[string]chan struct{}

	// Генератор ad-hoc идентификаторов
	nextID int64
}

// NewCoordinator создаёт координатор поверх менеджера соединения
func NewCoordinator(mgr *Manager, requestTimeout, cancelGrace time.Duration, log *utils.Logger) *Coordinator {
	c := &Coordinator{
		mgr:            mgr,
		log:            log.WithComponent("gateway.coordinator"),
		requestTimeout: requestTimeout,
		cancelGrace:    cancelGrace,
		pending:        make(map[int64]*pendingRequest),
		slots: map[string]chan struct{}{
			ChannelAccountSummary:  make(chan struct{}, 1),
			ChannelContractDetails: make(chan struct{}, 1),
			ChannelHistoricalData:  make(chan struct{}, 1),
			ChannelMarketDataTick:  make(chan struct{}, 1),
		},
		// Случайная база, чтобы id не пересекались между перезапусками
		// процесса, пока шлюз держит старую сессию
		nextID: 100000 + rand.Int63n(900000),
	}
	return c
}

// allocID выдаёт следующий ad-hoc идентификатор запроса
func (c *Coordinator) allocID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// acquireSlot занимает канал или ждёт его освобождения
func (c *Coordinator) acquireSlot(ctx context.Context, channel string) error {
	select {
	case c.slots[channel] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) releaseSlot(channel string) {
	<-c.slots[channel]
}

// register ставит запрос в таблицу ожидания
func (c *Coordinator) register(p *pendingRequest) {
	c.mu.Lock()
	c.pending[p.id] = p
	c.mu.Unlock()
	PendingRequests.Inc()
}

// unregister снимает запрос с ожидания
func (c *Coordinator) unregister(id int64) {
	c.mu.Lock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		PendingRequests.Dec()
	}
	c.mu.Unlock()
}

// HandleFrame маршрутизирует кадр с reqId в ожидающий запрос
//
// Возвращает true, если кадр был адресован какому-то pending запросу.
func (c *Coordinator) HandleFrame(f *Frame) bool {
	if f.ReqID == 0 {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[f.ReqID]
	c.mu.Unlock()

	if !ok {
		return false
	}

	if f.Type == MsgError {
		c.unregister(p.id)
		p.resolve(&GatewayError{Code: f.Code, Message: f.Message, ReqID: f.ReqID})
		return true
	}

	if p.onFrame(f) {
		c.unregister(p.id)
		p.resolve(nil)
	}
	return true
}

// CancelAll отменяет все ожидающие запросы (разрыв сессии)
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	pending := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, p)
	}
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		PendingRequests.Dec()
		p.resolve(ErrSessionClosed)
	}
}

// issue выполняет один обмен: запрос, ожидание терминального события,
// зачистка при таймауте
//
// cancelFrame != nil означает, что при таймауте нужно послать
// протокольную отмену и выждать cancelGrace перед освобождением канала.
func (c *Coordinator) issue(
	ctx context.Context,
	channel string,
	p *pendingRequest,
	request *Frame,
	cancelFrame *Frame,
) error {
	start := time.Now()

	if err := c.acquireSlot(ctx, channel); err != nil {
		return err
	}
	defer c.releaseSlot(channel)

	c.register(p)

	if err := c.mgr.Send(request); err != nil {
		c.unregister(p.id)
		p.resolve(err)
		RequestsTotal.WithLabelValues(p.kind, "send_error").Inc()
		return err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	var result error
	select {
	case <-p.done:
		result = p.err
	case <-timer.C:
		result = ErrRequestTimeout
	case <-ctx.Done():
		result = ctx.Err()
	}

	if result != nil {
		c.unregister(p.id)
		p.resolve(result)

		// Best-effort отмена: шлюз не подтверждает cancel, поэтому
		// перед повторным использованием канала выжидаем grace-период
		if cancelFrame != nil && c.mgr.Connected() {
			if err := c.mgr.Send(cancelFrame); err == nil {
				time.Sleep(c.cancelGrace)
			}
		}
	}

	outcome := "ok"
	if result != nil {
		outcome = "error"
		if result == ErrRequestTimeout {
			outcome = "timeout"
		}
	}
	RequestsTotal.WithLabelValues(p.kind, outcome).Inc()
	RequestDuration.WithLabelValues(p.kind).Observe(time.Since(start).Seconds())

	return result
}

// ============================================================
// Типизированные обмены
// ============================================================

// AccountSummary запрашивает сводку по счетам
//
// Использует фиксированный id канала; если от предыдущего цикла
// осталась подписка, она отменяется до нового запроса.
func (c *Coordinator) AccountSummary(ctx context.Context, scope string, tags []string) ([]AccountValue, error) {
	// Зачистка устаревшей подписки с прошлого цикла
	c.mu.Lock()
	stale, hasStale := c.pending[AccountSummaryReqID]
	c.mu.Unlock()

	if hasStale {
		c.unregister(stale.id)
		stale.resolve(ErrSessionClosed)
		if c.mgr.Connected() {
			_ = c.mgr.Send(&Frame{Type: MsgCancelAccountSummary, ReqID: AccountSummaryReqID})
			time.Sleep(c.cancelGrace)
		}
	}

	var (
		valuesMu sync.Mutex
		values   []AccountValue
	)

	p := &pendingRequest{
		id:   AccountSummaryReqID,
		kind: ChannelAccountSummary,
		done: make(chan struct{}),
		onFrame: func(f *Frame) bool {
			switch f.Type {
			case MsgAccountSummary:
				valuesMu.Lock()
				values = append(values, AccountValue{
					Account:  f.Account,
					Tag:      f.Tag,
					Value:    f.Value,
					Currency: f.Currency,
				})
				valuesMu.Unlock()
				return false
			case MsgAccountSummaryEnd:
				return true
			}
			return false
		},
	}

	request := &Frame{
		Type:  MsgReqAccountSummary,
		ReqID: AccountSummaryReqID,
		Scope: scope,
		Tags:  tags,
	}
	cancel := &Frame{Type: MsgCancelAccountSummary, ReqID: AccountSummaryReqID}

	if err := c.issue(ctx, ChannelAccountSummary, p, request, cancel); err != nil {
		return nil, err
	}

	valuesMu.Lock()
	defer valuesMu.Unlock()
	return values, nil
}

// ContractDetails запрашивает справочные атрибуты контракта
func (c *Coordinator) ContractDetails(ctx context.Context, conID int64) (*WireContractDetails, error) {
	var (
		detailsMu sync.Mutex
		details   *WireContractDetails
	)

	p := &pendingRequest{
		id:   c.allocID(),
		kind: ChannelContractDetails,
		done: make(chan struct{}),
		onFrame: func(f *Frame) bool {
			switch f.Type {
			case MsgContractDetails:
				detailsMu.Lock()
				details = f.Details
				detailsMu.Unlock()
				return false
			case MsgContractDetailsEnd:
				return true
			}
			return false
		},
	}

	request := &Frame{
		Type:     MsgReqContractDetails,
		ReqID:    p.id,
		Contract: &WireContract{ConID: conID},
	}

	if err := c.issue(ctx, ChannelContractDetails, p, request, nil); err != nil {
		return nil, err
	}

	detailsMu.Lock()
	defer detailsMu.Unlock()
	return details, nil
}

// HistoricalBars запрашивает серию исторических баров
//
// Серия завершается сентинельным баром "finished".
func (c *Coordinator) HistoricalBars(
	ctx context.Context,
	contract *WireContract,
	duration, barSize, whatToShow string,
	useRTH bool,
) ([]WireBar, error) {
	var (
		barsMu sync.Mutex
		bars   []WireBar
	)

	p := &pendingRequest{
		id:   c.allocID(),
		kind: ChannelHistoricalData,
		done: make(chan struct{}),
		onFrame: func(f *Frame) bool {
			if f.Type != MsgHistoricalBar || f.Bar == nil {
				return false
			}
			if f.Bar.Finished() {
				return true
			}
			barsMu.Lock()
			bars = append(bars, *f.Bar)
			barsMu.Unlock()
			return false
		},
	}

	request := &Frame{
		Type:       MsgReqHistoricalData,
		ReqID:      p.id,
		Contract:   contract,
		Duration:   duration,
		BarSize:    barSize,
		WhatToShow: whatToShow,
		UseRTH:     useRTH,
	}

	if err := c.issue(ctx, ChannelHistoricalData, p, request, nil); err != nil {
		return nil, err
	}

	barsMu.Lock()
	defer barsMu.Unlock()
	return bars, nil
}

// TickSnapshot коротко подписывается на тики и снимает last/prevClose
//
// Используется для облигаций, которые не отдают исторические бары.
// Подписка отменяется сразу после получения нужных типов тиков.
func (c *Coordinator) TickSnapshot(ctx context.Context, contract *WireContract) (*TickSnapshotResult, error) {
	var (
		resultMu sync.Mutex
		result   TickSnapshotResult
	)

	p := &pendingRequest{
		id:   c.allocID(),
		kind: ChannelMarketDataTick,
		done: make(chan struct{}),
		onFrame: func(f *Frame) bool {
			if f.Type != MsgTickPrice {
				return false
			}
			resultMu.Lock()
			switch f.TickType {
			case TickLast:
				result.Last = f.Price
			case TickPrevClose:
				result.PrevClose = f.Price
			case TickBid:
				result.Bid = f.Price
			case TickAsk:
				result.Ask = f.Price
			}
			complete := result.HasPrice()
			resultMu.Unlock()
			return complete
		},
	}

	request := &Frame{
		Type:     MsgReqMarketDataTick,
		ReqID:    p.id,
		Contract: contract,
	}
	cancelFrame := &Frame{Type: MsgCancelMarketDataTick, ReqID: p.id}

	err := c.issue(ctx, ChannelMarketDataTick, p, request, cancelFrame)

	// Тиковая подписка отменяется и при успехе: шлюз продолжит слать
	// тики, пока не получит явный cancel
	if err == nil && c.mgr.Connected() {
		_ = c.mgr.Send(cancelFrame)
	}

	if err != nil {
		return nil, err
	}

	resultMu.Lock()
	defer resultMu.Unlock()
	out := result
	return &out, nil
}
