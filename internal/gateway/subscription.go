package gateway

import (
	"context"
	"strconv"
	"sync"
	"time"

	"portsync/internal/models"
	"portsync/pkg/utils"
)

// ============================================================
// SubscriptionFeed: поток account/portfolio/cash обновлений
// ============================================================

// FeedState - состояние потоковой подписки
type FeedState int32

const (
	FeedIdle FeedState = iota
	FeedSubscribing
	FeedStreaming
)

func (s FeedState) String() string {
	switch s {
	case FeedIdle:
		return "idle"
	case FeedSubscribing:
		return "subscribing"
	case FeedStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Теги account value, которые шлюз повторяет по одному разу на валюту.
// Для них ключ аккумулятора составной: tag:currency.
var perCurrencyTags = map[string]bool{
	"CashBalance":             true,
	"TotalCashBalance":        true,
	"AccruedCash":             true,
	"ExchangeRate":            true,
	"RealCurrency":            true,
	"NetLiquidationByCurrency": true,
}

// RawSnapshot - накопленный результат одного download-цикла
//
// Консистентен только после срабатывания download-complete.
type RawSnapshot struct {
	AccountID string
	Values    map[string]AccountValue
	Positions []models.Position
	Cash      []models.CashBalance
}

// Feed управляет единственной потоковой подпиской на данные счёта
//
// Машина состояний: Idle -> Subscribing -> Streaming -> (Unsubscribe) -> Idle.
// Повторный Subscribe в состоянии Streaming - no-op.
type Feed struct {
	mgr *Manager
	log *utils.Logger

	mu        sync.Mutex
	state     FeedState
	accountID string

	// Аккумуляторы текущего download-цикла
	values    map[string]AccountValue
	positions map[int64]models.Position
	cash      map[string]models.CashBalance

	// Закрывается по кадру accountDownloadEnd
	downloadDone chan struct{}
	downloadOnce *sync.Once
}

// NewFeed создаёт подписку поверх менеджера соединения
func NewFeed(mgr *Manager, log *utils.Logger) *Feed {
	return &Feed{
		mgr:   mgr,
		log:   log.WithComponent("gateway.feed"),
		state: FeedIdle,
	}
}

// State возвращает текущее состояние подписки
func (fd *Feed) State() FeedState {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.state
}

// Subscribe открывает поток обновлений счёта и ждёт download-complete
//
// Идемпотентен: в состоянии Streaming немедленно возвращает уже
// накопленный снимок без второй подписки и без дублирования обработчиков.
func (fd *Feed) Subscribe(ctx context.Context, accountID string, timeout time.Duration) (*RawSnapshot, error) {
	fd.mu.Lock()

	if fd.state == FeedStreaming && fd.accountID == accountID {
		snap := fd.buildSnapshotLocked()
		fd.mu.Unlock()
		return snap, nil
	}

	if fd.state != FeedIdle {
		// Subscribing на другой счёт или незавершённый цикл:
		// сначала закрываем старую подписку
		fd.mu.Unlock()
		fd.Unsubscribe()
		fd.mu.Lock()
	}

	fd.state = FeedSubscribing
	fd.accountID = accountID
	fd.values = make(map[string]AccountValue)
	fd.positions = make(map[int64]models.Position)
	fd.cash = make(map[string]models.CashBalance)
	fd.downloadDone = make(chan struct{})
	fd.downloadOnce = &sync.Once{}
	done := fd.downloadDone
	fd.mu.Unlock()

	err := fd.mgr.Send(&Frame{
		Type:      MsgAccountUpdates,
		Account:   accountID,
		Subscribe: true,
	})
	if err != nil {
		fd.reset()
		return nil, err
	}

	ActiveSubscriptions.Set(1)
	fd.log.Info("account stream subscribed", utils.Account(accountID))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		fd.Unsubscribe()
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		fd.Unsubscribe()
		return nil, ctx.Err()
	}

	fd.mu.Lock()
	// Разрыв сессии тоже закрывает latch через reset: отличаем его
	// от настоящего downloadEnd по актуальности цикла
	if fd.downloadDone != done {
		fd.mu.Unlock()
		return nil, ErrSessionClosed
	}
	fd.state = FeedStreaming
	snap := fd.buildSnapshotLocked()
	fd.mu.Unlock()

	fd.log.Info("account download complete",
		utils.Account(accountID),
		utils.Int("positions", len(snap.Positions)),
		utils.Int("cash_currencies", len(snap.Cash)))

	return snap, nil
}

// Unsubscribe закрывает поток и очищает аккумуляторы
//
// Идемпотентен.
func (fd *Feed) Unsubscribe() {
	fd.mu.Lock()
	if fd.state == FeedIdle {
		fd.mu.Unlock()
		return
	}
	accountID := fd.accountID
	fd.mu.Unlock()

	if fd.mgr.Connected() {
		_ = fd.mgr.Send(&Frame{
			Type:      MsgAccountUpdates,
			Account:   accountID,
			Subscribe: false,
		})
	}

	fd.reset()
	ActiveSubscriptions.Set(0)
	fd.log.Info("account stream unsubscribed", utils.Account(accountID))
}

// reset возвращает подписку в Idle
func (fd *Feed) reset() {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.state = FeedIdle
	fd.accountID = ""
	fd.values = nil
	fd.positions = nil
	fd.cash = nil
	if fd.downloadOnce != nil && fd.downloadDone != nil {
		done := fd.downloadDone
		fd.downloadOnce.Do(func() { close(done) })
	}
	fd.downloadDone = nil
	fd.downloadOnce = nil
}

// HandleFrame обрабатывает кадр потока счёта
//
// Возвращает true, если кадр относился к подписке.
func (fd *Feed) HandleFrame(f *Frame) bool {
	switch f.Type {
	case MsgAccountValue:
		fd.onAccountValue(f)
		return true
	case MsgPortfolioPosition:
		fd.onPortfolioPosition(f)
		return true
	case MsgAccountDownloadEnd:
		fd.onDownloadEnd()
		return true
	}
	return false
}

func (fd *Feed) onAccountValue(f *Frame) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.values == nil {
		return
	}

	// Денежные теги повторяются по валютам: составной ключ,
	// иначе последняя валюта затирала бы предыдущие
	key := f.Tag
	if perCurrencyTags[f.Tag] && f.Currency != "" {
		key = f.Tag + ":" + f.Currency
	}

	fd.values[key] = AccountValue{
		Account:  f.Account,
		Tag:      f.Tag,
		Value:    f.Value,
		Currency: f.Currency,
	}
}

func (fd *Feed) onPortfolioPosition(f *Frame) {
	if f.Contract == nil {
		return
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.positions == nil {
		return
	}

	// Денежные позиции идут тем же потоком, но это не инструменты:
	// отводим их в кассовый аккумулятор
	if f.Contract.SecType == models.SecTypeCash {
		fd.cash[f.Contract.Currency] = models.CashBalance{
			AccountID: fd.accountID,
			Currency:  f.Contract.Currency,
			Amount:    f.Quantity,
		}
		return
	}

	fd.positions[f.Contract.ConID] = models.Position{
		AccountID:       fd.accountID,
		ConID:           f.Contract.ConID,
		Symbol:          f.Contract.Symbol,
		SecType:         f.Contract.SecType,
		Currency:        f.Contract.Currency,
		Exchange:        f.Contract.Exchange,
		PrimaryExchange: f.Contract.PrimaryExchange,
		Quantity:        f.Quantity,
		AvgCost:         f.AvgCost,
		LastPrice:       f.MarketPrice,
		MarketValue:     f.MarketValue,
		UnrealizedPNL:   f.UnrealizedPNL,
		RealizedPNL:     f.RealizedPNL,
	}
}

func (fd *Feed) onDownloadEnd() {
	fd.mu.Lock()
	once := fd.downloadOnce
	done := fd.downloadDone
	fd.mu.Unlock()

	if once != nil && done != nil {
		once.Do(func() { close(done) })
	}
}

// buildSnapshotLocked собирает снимок из аккумуляторов (под fd.mu)
func (fd *Feed) buildSnapshotLocked() *RawSnapshot {
	snap := &RawSnapshot{
		AccountID: fd.accountID,
		Values:    make(map[string]AccountValue, len(fd.values)),
		Positions: make([]models.Position, 0, len(fd.positions)),
		Cash:      make([]models.CashBalance, 0, len(fd.cash)),
	}
	for k, v := range fd.values {
		snap.Values[k] = v
	}
	for _, p := range fd.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, cb := range fd.cash {
		snap.Cash = append(snap.Cash, cb)
	}
	return snap
}

// Balance извлекает итоговую оценку счёта (NetLiquidation) из снимка
func (s *RawSnapshot) Balance() models.Balance {
	b := models.Balance{
		AccountID: s.AccountID,
		UpdatedAt: time.Now(),
	}

	if v, ok := s.Values["NetLiquidation"]; ok {
		b.Amount, _ = strconv.ParseFloat(v.Value, 64)
		b.Currency = v.Currency
	}

	return b
}

// CashConversions дополняет кассовые остатки пересчётом в отчётные валюты
//
// Шлюз присылает тег CashBalance по одному разу на валюту; пересчёт
// в EUR/USD берётся из тегов ExchangeRate, если они есть в снимке.
func (s *RawSnapshot) CashConversions() []models.CashBalance {
	rateFor := func(currency string) float64 {
		if v, ok := s.Values["ExchangeRate:"+currency]; ok {
			if r, err := strconv.ParseFloat(v.Value, 64); err == nil && r > 0 {
				return r
			}
		}
		return 0
	}

	eurRate := rateFor("EUR")
	usdRate := rateFor("USD")

	out := make([]models.CashBalance, 0, len(s.Cash))
	for _, cb := range s.Cash {
		own := rateFor(cb.Currency)
		if own > 0 {
			if eurRate > 0 {
				cb.ValueEUR = cb.Amount * own / eurRate
			}
			if usdRate > 0 {
				cb.ValueUSD = cb.Amount * own / usdRate
			}
		}
		out = append(out, cb)
	}
	return out
}
