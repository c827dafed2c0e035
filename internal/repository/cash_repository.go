package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"portsync/internal/models"
)

// CashRepository - работа с таблицей cash_balances
type CashRepository struct {
	db *sql.DB
}

// NewCashRepository создает новый экземпляр репозитория
func NewCashRepository(db *sql.DB) *CashRepository {
	return &CashRepository{db: db}
}

// ReplaceAll заменяет валютные остатки аккаунта целиком
//
// Та же схема, что у позиций: delete + один multi-row INSERT
// в транзакции, ограниченная парой (account_id, source).
func (r *CashRepository) ReplaceAll(ctx context.Context, accountID, source string, balances []models.CashBalance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cash tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM cash_balances WHERE account_id = $1 AND source = $2`,
		accountID, source)
	if err != nil {
		return fmt.Errorf("delete cash balances: %w", err)
	}

	if len(balances) > 0 {
		const cols = 6

		var sb strings.Builder
		sb.WriteString(`INSERT INTO cash_balances (account_id, currency, amount, value_eur, value_usd, source) VALUES `)

		args := make([]interface{}, 0, len(balances)*cols)
		for i, cb := range balances {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * cols
			sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6))
			args = append(args, accountID, cb.Currency, cb.Amount, cb.ValueEUR, cb.ValueUSD, source)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("bulk insert cash balances: %w", err)
		}
	}

	return tx.Commit()
}

// GetByAccount возвращает валютные остатки аккаунта
func (r *CashRepository) GetByAccount(ctx context.Context, accountID string) ([]models.CashBalance, error) {
	query := `
		SELECT account_id, currency, amount, value_eur, value_usd
		FROM cash_balances
		WHERE account_id = $1
		ORDER BY currency`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []models.CashBalance
	for rows.Next() {
		var cb models.CashBalance
		if err := rows.Scan(&cb.AccountID, &cb.Currency, &cb.Amount, &cb.ValueEUR, &cb.ValueUSD); err != nil {
			return nil, err
		}
		balances = append(balances, cb)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return balances, nil
}
