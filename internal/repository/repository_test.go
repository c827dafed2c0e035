package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"portsync/internal/models"
	"portsync/pkg/crypto"
)

// ============================================================
// PositionRepository Tests
// ============================================================

func TestPositionRepositoryReplaceAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPositionRepository(db)

	prev := 51.00
	change := 130.0
	percent := 2.549
	positions := []models.EnrichedPosition{
		{
			Position: models.Position{
				AccountID: "U100", ConID: 265598, Symbol: "AAPL", SecType: "STK",
				Currency: "USD", Quantity: 100, AvgCost: 48.10, LastPrice: 52.30,
			},
			Industry: "Consumer Electronics", Country: "United States",
			PrevClose: &prev, DayChange: &change, DayChangePercent: &percent,
			EnrichedAt: time.Now(),
		},
		{
			Position: models.Position{
				AccountID: "U100", ConID: 555, Symbol: "BMW 3.9 29", SecType: "BOND",
				Currency: "EUR", Quantity: 10000, LastPrice: 101.5,
			},
			EnrichedAt: time.Now(),
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM positions WHERE account_id = \$1 AND source = \$2`).
		WithArgs("U100", models.SourceGateway).
		WillReturnResult(sqlmock.NewResult(0, 3))
	// Один multi-row INSERT на весь батч
	mock.ExpectExec(`INSERT INTO positions`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := repo.ReplaceAll(context.Background(), "U100", models.SourceGateway, positions); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPositionRepositoryReplaceAllEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPositionRepository(db)

	// Пустой портфель: только delete, вставки нет
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM positions`).
		WithArgs("U100", models.SourceGateway).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	if err := repo.ReplaceAll(context.Background(), "U100", models.SourceGateway, nil); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPositionRepositoryReplaceAllRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPositionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM positions`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err = repo.ReplaceAll(context.Background(), "U100", models.SourceGateway, []models.EnrichedPosition{
		{Position: models.Position{ConID: 1, Symbol: "AAPL"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPositionRepositoryGetByAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPositionRepository(db)

	prev := 51.00
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"account_id", "con_id", "symbol", "sec_type", "currency", "exchange", "primary_exchange",
		"quantity", "avg_cost", "last_price", "market_value", "unrealized_pnl", "realized_pnl",
		"industry", "category", "country", "prev_close", "day_change", "day_change_percent",
		"enriched_at", "source",
	}).AddRow(
		"U100", int64(265598), "AAPL", "STK", "USD", "SMART", "NASDAQ",
		100.0, 48.10, 52.30, 5230.0, 420.0, 0.0,
		"Consumer Electronics", "Technology", "United States", &prev, nil, nil,
		now, models.SourceGateway,
	)

	mock.ExpectQuery(`SELECT .+ FROM positions WHERE account_id = \$1`).
		WithArgs("U100").
		WillReturnRows(rows)

	positions, err := repo.GetByAccount(context.Background(), "U100")
	if err != nil {
		t.Fatalf("GetByAccount failed: %v", err)
	}

	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.Symbol != "AAPL" || p.Source != models.SourceGateway {
		t.Errorf("unexpected position: %+v", p)
	}
	if p.PrevClose == nil || *p.PrevClose != 51.00 {
		t.Errorf("expected prevClose=51.00, got %v", p.PrevClose)
	}
	if p.DayChange != nil {
		t.Errorf("expected nil dayChange, got %v", *p.DayChange)
	}
}

// ============================================================
// CashRepository Tests
// ============================================================

func TestCashRepositoryReplaceAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewCashRepository(db)

	balances := []models.CashBalance{
		{Currency: "EUR", Amount: 10000, ValueEUR: 10000, ValueUSD: 10850},
		{Currency: "USD", Amount: 5000, ValueEUR: 4608, ValueUSD: 5000},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM cash_balances WHERE account_id = \$1 AND source = \$2`).
		WithArgs("U100", models.SourceGateway).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO cash_balances`).
		WithArgs(
			"U100", "EUR", 10000.0, 10000.0, 10850.0, models.SourceGateway,
			"U100", "USD", 5000.0, 4608.0, 5000.0, models.SourceGateway,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := repo.ReplaceAll(context.Background(), "U100", models.SourceGateway, balances); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ============================================================
// AccountRepository Tests
// ============================================================

func TestAccountRepositoryUpsertBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewAccountRepository(db)

	mock.ExpectExec(`INSERT INTO account_balances`).
		WithArgs("U100", 250000.0, "EUR", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.UpsertBalance(context.Background(), &models.Balance{
		AccountID: "U100", Amount: 250000.0, Currency: "EUR",
	})
	if err != nil {
		t.Fatalf("UpsertBalance failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAccountRepositoryGetBalanceNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewAccountRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM account_balances`).
		WithArgs("UNKNOWN").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "currency", "updated_at"}))

	_, err = repo.GetBalance(context.Background(), "UNKNOWN")
	if !errors.Is(err, ErrBalanceNotFound) {
		t.Errorf("expected ErrBalanceNotFound, got %v", err)
	}
}

func TestAccountRepositoryRefreshStamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewAccountRepository(db)

	mock.ExpectExec(`INSERT INTO refresh_stamps`).
		WithArgs("U100", models.RefreshCategoryPortfolio, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.TouchRefresh(context.Background(), "U100", models.RefreshCategoryPortfolio); err != nil {
		t.Fatalf("TouchRefresh failed: %v", err)
	}

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM refresh_stamps`).
		WithArgs("U100").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "category", "refreshed_at"}).
			AddRow("U100", models.RefreshCategoryPortfolio, now).
			AddRow("U100", models.RefreshCategoryCash, now))

	stamps, err := repo.GetRefreshStamps(context.Background(), "U100")
	if err != nil {
		t.Fatalf("GetRefreshStamps failed: %v", err)
	}
	if len(stamps) != 2 {
		t.Errorf("expected 2 stamps, got %d", len(stamps))
	}
}

// ============================================================
// ContractRepository Tests
// ============================================================

func TestContractRepositoryRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContractRepository(db)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO contract_refs`).
		WithArgs(int64(265598), "AAPL", "Consumer Electronics", "Technology", "United States", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.PutContractRef(context.Background(), &models.ContractReference{
		ConID: 265598, Symbol: "AAPL", Industry: "Consumer Electronics",
		Category: "Technology", Country: "United States", FetchedAt: now,
	})
	if err != nil {
		t.Fatalf("PutContractRef failed: %v", err)
	}

	mock.ExpectQuery(`SELECT .+ FROM contract_refs WHERE con_id = \$1`).
		WithArgs(int64(265598)).
		WillReturnRows(sqlmock.NewRows([]string{"con_id", "symbol", "industry", "category", "country", "fetched_at"}).
			AddRow(int64(265598), "AAPL", "Consumer Electronics", "Technology", "United States", now))

	ref, err := repo.GetContractRef(context.Background(), 265598)
	if err != nil {
		t.Fatalf("GetContractRef failed: %v", err)
	}
	if ref == nil || ref.Industry != "Consumer Electronics" {
		t.Errorf("unexpected ref: %+v", ref)
	}
}

func TestContractRepositoryGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContractRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM contract_refs`).
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"con_id", "symbol", "industry", "category", "country", "fetched_at"}))

	// Отсутствие записи - не ошибка
	ref, err := repo.GetContractRef(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetContractRef failed: %v", err)
	}
	if ref != nil {
		t.Errorf("expected nil for missing ref, got %+v", ref)
	}
}

// ============================================================
// SettingsRepository Tests
// ============================================================

func TestSettingsRepositorySecret(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	key := []byte("0123456789abcdef0123456789abcdef")
	repo := NewSettingsRepository(db, key)

	encrypted, err := crypto.Encrypt("fk_live_secret", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).
		WithArgs(SettingRefDataAPIKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(encrypted))

	value, err := repo.GetSecret(context.Background(), SettingRefDataAPIKey)
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value != "fk_live_secret" {
		t.Errorf("expected decrypted secret, got %q", value)
	}
}

func TestSettingsRepositoryGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSettingsRepository(db, []byte("0123456789abcdef0123456789abcdef"))

	mock.ExpectQuery(`SELECT value FROM settings`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err = repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("expected ErrSettingNotFound, got %v", err)
	}
}
