package service

import (
	"context"
	"sync"
	"time"

	"portsync/internal/gateway"
	"portsync/internal/models"
	"portsync/internal/repository"
	"portsync/pkg/utils"
)

// ============================================================
// Моки зависимостей оркестратора
// ============================================================

type mockGateway struct {
	mu sync.Mutex

	connectErr   error
	subscribeErr error
	raw          *gateway.RawSnapshot

	// Одноразовая ошибка первой попытки подключения
	connectErrOnce error

	connectCalls     int
	subscribeCalls   int
	unsubscribeCalls int

	// Задержка внутри Subscribe для тестов конкурентности
	subscribeDelay time.Duration
}

func (m *mockGateway) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	m.connectCalls++
	once := m.connectErrOnce
	m.connectErrOnce = nil
	m.mu.Unlock()
	if once != nil {
		return once
	}
	return m.connectErr
}

func (m *mockGateway) Connected() bool { return m.connectErr == nil }

func (m *mockGateway) Subscribe(ctx context.Context, accountID string, timeout time.Duration) (*gateway.RawSnapshot, error) {
	m.mu.Lock()
	m.subscribeCalls++
	m.mu.Unlock()

	if m.subscribeDelay > 0 {
		select {
		case <-time.After(m.subscribeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	if m.raw != nil {
		return m.raw, nil
	}
	return &gateway.RawSnapshot{AccountID: accountID, Values: map[string]gateway.AccountValue{}}, nil
}

func (m *mockGateway) Unsubscribe() {
	m.mu.Lock()
	m.unsubscribeCalls++
	m.mu.Unlock()
}

func (m *mockGateway) Disconnect() {}

type mockEnricher struct {
	mu          sync.Mutex
	enrichCalls int
	resetCalls  int
	failSymbol  string
}

func (m *mockEnricher) Enrich(ctx context.Context, positions []models.Position) []models.EnrichedPosition {
	m.mu.Lock()
	m.enrichCalls++
	m.mu.Unlock()

	out := make([]models.EnrichedPosition, 0, len(positions))
	for _, p := range positions {
		ep := models.EnrichedPosition{Position: p, EnrichedAt: time.Now()}
		if p.Symbol != m.failSymbol {
			prev := p.LastPrice * 0.98
			ep.PrevClose = &prev
		}
		out = append(out, ep)
	}
	return out
}

func (m *mockEnricher) ResetBlacklist() {
	m.mu.Lock()
	m.resetCalls++
	m.mu.Unlock()
}

type mockPositionRepo struct {
	mu         sync.Mutex
	stored     map[string][]models.EnrichedPosition
	replaceErr error
	getErr     error
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{stored: make(map[string][]models.EnrichedPosition)}
}

func (m *mockPositionRepo) ReplaceAll(ctx context.Context, accountID, source string, positions []models.EnrichedPosition) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[accountID] = positions
	return nil
}

func (m *mockPositionRepo) GetByAccount(ctx context.Context, accountID string) ([]models.EnrichedPosition, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[accountID], nil
}

type mockCashRepo struct {
	mu         sync.Mutex
	stored     map[string][]models.CashBalance
	replaceErr error
}

func newMockCashRepo() *mockCashRepo {
	return &mockCashRepo{stored: make(map[string][]models.CashBalance)}
}

func (m *mockCashRepo) ReplaceAll(ctx context.Context, accountID, source string, balances []models.CashBalance) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[accountID] = balances
	return nil
}

func (m *mockCashRepo) GetByAccount(ctx context.Context, accountID string) ([]models.CashBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[accountID], nil
}

type mockAccountRepo struct {
	mu        sync.Mutex
	balances  map[string]models.Balance
	stamps    map[string][]models.RefreshStamp
	upsertErr error
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{
		balances: make(map[string]models.Balance),
		stamps:   make(map[string][]models.RefreshStamp),
	}
}

func (m *mockAccountRepo) UpsertBalance(ctx context.Context, b *models.Balance) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.AccountID] = *b
	return nil
}

func (m *mockAccountRepo) GetBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[accountID]; ok {
		out := b
		return &out, nil
	}
	return nil, repository.ErrBalanceNotFound
}

func (m *mockAccountRepo) TouchRefresh(ctx context.Context, accountID, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, st := range m.stamps[accountID] {
		if st.Category == category {
			m.stamps[accountID][i].RefreshedAt = time.Now()
			return nil
		}
	}
	m.stamps[accountID] = append(m.stamps[accountID], models.RefreshStamp{
		AccountID: accountID, Category: category, RefreshedAt: time.Now(),
	})
	return nil
}

func (m *mockAccountRepo) GetRefreshStamps(ctx context.Context, accountID string) ([]models.RefreshStamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stamps[accountID], nil
}

func (m *mockAccountRepo) touchedCategories(accountID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, st := range m.stamps[accountID] {
		out = append(out, st.Category)
	}
	return out
}

type mockEvents struct {
	mu       sync.Mutex
	started  int
	finished int
	lastErr  error
}

func (m *mockEvents) PublishRefreshStarted(accountID string, manual bool) {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *mockEvents) PublishRefreshFinished(accountID string, positions int, err error) {
	m.mu.Lock()
	m.finished++
	m.lastErr = err
	m.mu.Unlock()
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error", Format: "console"})
}
