package handlers

import (
	"context"
	"errors"

	"portsync/internal/models"
	"portsync/pkg/ratelimit"
)

// ============================================================
// Моки сервисов для handler-тестов
// ============================================================

var ErrMockDatabase = errors.New("mock database error")

// mockPortfolioService реализует service.PortfolioServiceInterface
type mockPortfolioService struct {
	snapshot *models.AccountSnapshot

	refreshErr  error
	snapshotErr error

	refreshCalls  int
	lastManual    bool
	lastAccountID string
}

func (m *mockPortfolioService) Refresh(ctx context.Context, accountID string, manual bool) (*models.AccountSnapshot, error) {
	m.refreshCalls++
	m.lastAccountID = accountID
	m.lastManual = manual
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.snapshot, nil
}

func (m *mockPortfolioService) GetSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	m.lastAccountID = accountID
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	if m.snapshot != nil {
		return m.snapshot, nil
	}
	return &models.AccountSnapshot{AccountID: accountID}, nil
}

// mockGatewayStatus реализует GatewayStatusProvider
type mockGatewayStatus struct {
	connected bool
}

func (m *mockGatewayStatus) Connected() bool { return m.connected }

// mockThrottleStatus реализует ThrottleStatusProvider
type mockThrottleStatus struct {
	status ratelimit.Status
}

func (m *mockThrottleStatus) Status() ratelimit.Status { return m.status }

// mockAccountRepo реализует service.AccountRepositoryInterface
type mockAccountRepo struct {
	stamps map[string][]models.RefreshStamp
	err    error
}

func (m *mockAccountRepo) UpsertBalance(ctx context.Context, b *models.Balance) error { return nil }

func (m *mockAccountRepo) GetBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	return &models.Balance{AccountID: accountID}, nil
}

func (m *mockAccountRepo) TouchRefresh(ctx context.Context, accountID, category string) error {
	return nil
}

func (m *mockAccountRepo) GetRefreshStamps(ctx context.Context, accountID string) ([]models.RefreshStamp, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stamps[accountID], nil
}

// testSnapshot возвращает заполненный снимок аккаунта
func testSnapshot(accountID string) *models.AccountSnapshot {
	return &models.AccountSnapshot{
		AccountID: accountID,
		Balance:   models.Balance{AccountID: accountID, Amount: 250000.00, Currency: "EUR"},
		Positions: []models.EnrichedPosition{
			{Position: models.Position{AccountID: accountID, ConID: 265598, Symbol: "AAPL", SecType: "STK", Quantity: 100, LastPrice: 192.30}},
		},
		Cash: []models.CashBalance{
			{AccountID: accountID, Currency: "EUR", Amount: 10000, ValueEUR: 10000},
		},
	}
}
