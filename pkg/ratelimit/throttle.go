package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Throttle - лимитер справочных запросов к торговому шлюзу
//
// Шлюз наказывает за превышение темпа справочных запросов (contract details,
// historical data, tick snapshot) блокировкой категории на десятки минут,
// поэтому лимит применяется проактивно, ДО отправки запроса:
//
//   - скользящее окно: не более WindowLimit запросов за трейлинг Window
//   - минимальный интервал MinSpacing между последовательными запросами
//     (блокирует вызывающего до истечения интервала)
//   - глобальный cooldown: pacing violation или data-farm-disconnect от
//     шлюза немедленно замораживает ВСЕ справочные запросы на Cooldown,
//     независимо от счётчика окна
//
// Использование:
//
//	throttle := ratelimit.NewThrottle(ratelimit.DefaultConfig())
//	if err := throttle.CheckAndReserve(ctx, ratelimit.KindHistorical); err != nil {
//	    // пропустить обогащение в этом цикле, повторить в следующем
//	}
type Throttle struct {
	cfg Config

	mu             sync.Mutex
	history        []time.Time // времена запросов внутри окна
	lastRequest    time.Time
	cooldownUntil  time.Time
	cooldownReason string

	// переопределяется в тестах
	now func() time.Time
}

// Виды справочных запросов (для Status и логирования)
const (
	KindContractDetails = "contract_details"
	KindHistoricalData  = "historical_data"
	KindTickSnapshot    = "tick_snapshot"
)

// Config - параметры лимитера
type Config struct {
	// Максимум запросов в скользящем окне
	WindowLimit int
	// Длина скользящего окна
	Window time.Duration
	// Минимальный интервал между последовательными запросами
	MinSpacing time.Duration
	// Длительность глобального cooldown после pacing violation
	Cooldown time.Duration
}

// DefaultConfig возвращает лимиты по умолчанию
//
// 50 запросов за 10 минут с интервалом 2s - консервативнее документированных
// лимитов шлюза, запас на запросы других клиентов той же сессии.
func DefaultConfig() Config {
	return Config{
		WindowLimit: 50,
		Window:      10 * time.Minute,
		MinSpacing:  2 * time.Second,
		Cooldown:    10 * time.Minute,
	}
}

// RateLimitError - проактивный отказ лимитера
//
// RetryAfter - через сколько запрос имеет смысл повторить.
type RateLimitError struct {
	Kind       string
	Reason     string // "window", "cooldown"
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit (%s): %s, retry after %s", e.Kind, e.Reason, e.RetryAfter.Round(time.Second))
}

// Status - снимок состояния лимитера для observability
type Status struct {
	WindowUsed        int           `json:"window_used"`
	WindowLimit       int           `json:"window_limit"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	CooldownReason    string        `json:"cooldown_reason,omitempty"`
	LastRequest       time.Time     `json:"last_request"`
}

// NewThrottle создаёт лимитер
func NewThrottle(cfg Config) *Throttle {
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}

	return &Throttle{
		cfg: cfg,
		now: time.Now,
	}
}

// prune убирает из истории запросы, вышедшие за окно
// ВАЖНО: вызывается под lock'ом
func (t *Throttle) prune(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	i := 0
	for i < len(t.history) && !t.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.history = append(t.history[:0], t.history[i:]...)
	}
}

// CheckAndReserve резервирует слот под справочный запрос
//
// Возвращает:
//   - nil: слот зарезервирован, запрос можно отправлять
//   - *RateLimitError: окно исчерпано или действует cooldown; вызывающий
//     должен пропустить запрос и повторить не раньше RetryAfter
//   - ctx.Err(): контекст отменён во время ожидания минимального интервала
//
// Ожидание минимального интервала (MinSpacing) - блокирующее: под квотой
// вызывающий просто ждёт, отказ возвращается только при исчерпании окна
// или cooldown.
func (t *Throttle) CheckAndReserve(ctx context.Context, kind string) error {
	for {
		t.mu.Lock()
		now := t.now()
		t.prune(now)

		// Глобальный cooldown перекрывает счётчик окна
		if now.Before(t.cooldownUntil) {
			retry := t.cooldownUntil.Sub(now)
			t.mu.Unlock()
			return &RateLimitError{Kind: kind, Reason: "cooldown", RetryAfter: retry}
		}

		if len(t.history) >= t.cfg.WindowLimit {
			retry := t.history[0].Add(t.cfg.Window).Sub(now)
			t.mu.Unlock()
			return &RateLimitError{Kind: kind, Reason: "window", RetryAfter: retry}
		}

		// Минимальный интервал между запросами
		wait := t.cfg.MinSpacing - now.Sub(t.lastRequest)
		if wait <= 0 || t.lastRequest.IsZero() {
			t.history = append(t.history, now)
			t.lastRequest = now
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		// Ждём с возможностью отмены
		select {
		case <-time.After(wait):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TriggerCooldown включает глобальный cooldown
//
// Вызывается при получении от шлюза pacing violation или уведомления о
// разрыве соединения с data farm: счётчик окна в этот момент не важен,
// шлюз уже отказывает, продолжать запросы бессмысленно.
func (t *Throttle) TriggerCooldown(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Последний триггер точнее описывает, почему шлюз отказывает
	t.cooldownReason = reason

	until := t.now().Add(t.cfg.Cooldown)
	if until.After(t.cooldownUntil) {
		t.cooldownUntil = until
	}
}

// CooldownActive возвращает true если действует глобальный cooldown
func (t *Throttle) CooldownActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.cooldownUntil)
}

// Status возвращает снимок состояния лимитера
func (t *Throttle) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.prune(now)

	var cooldown time.Duration
	var reason string
	if now.Before(t.cooldownUntil) {
		cooldown = t.cooldownUntil.Sub(now)
		reason = t.cooldownReason
	}

	return Status{
		WindowUsed:        len(t.history),
		WindowLimit:       t.cfg.WindowLimit,
		CooldownRemaining: cooldown,
		CooldownReason:    reason,
		LastRequest:       t.lastRequest,
	}
}
