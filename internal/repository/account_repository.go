package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"portsync/internal/models"
)

// Ошибки репозитория аккаунтов
var (
	ErrBalanceNotFound = errors.New("account balance not found")
)

// AccountRepository - работа с таблицами account_balances и refresh_stamps
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// UpsertBalance записывает итоговую оценку аккаунта
func (r *AccountRepository) UpsertBalance(ctx context.Context, b *models.Balance) error {
	query := `
		INSERT INTO account_balances (account_id, amount, currency, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET amount = EXCLUDED.amount, currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at`

	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query, b.AccountID, b.Amount, b.Currency, b.UpdatedAt)
	return err
}

// GetBalance возвращает оценку аккаунта
func (r *AccountRepository) GetBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	query := `
		SELECT account_id, amount, currency, updated_at
		FROM account_balances
		WHERE account_id = $1`

	b := &models.Balance{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&b.AccountID, &b.Amount, &b.Currency, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}

	return b, nil
}

// TouchRefresh ставит отметку последнего обновления категории
func (r *AccountRepository) TouchRefresh(ctx context.Context, accountID, category string) error {
	query := `
		INSERT INTO refresh_stamps (account_id, category, refreshed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, category)
		DO UPDATE SET refreshed_at = EXCLUDED.refreshed_at`

	_, err := r.db.ExecContext(ctx, query, accountID, category, time.Now())
	return err
}

// GetRefreshStamps возвращает отметки обновления по всем категориям
func (r *AccountRepository) GetRefreshStamps(ctx context.Context, accountID string) ([]models.RefreshStamp, error) {
	query := `
		SELECT account_id, category, refreshed_at
		FROM refresh_stamps
		WHERE account_id = $1`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stamps []models.RefreshStamp
	for rows.Next() {
		var st models.RefreshStamp
		if err := rows.Scan(&st.AccountID, &st.Category, &st.RefreshedAt); err != nil {
			return nil, err
		}
		stamps = append(stamps, st)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return stamps, nil
}
