// Package repository - доступ к Postgres хранилищу портфеля.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"portsync/internal/models"
)

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `account_id, con_id, symbol, sec_type, currency, exchange, primary_exchange,
		quantity, avg_cost, last_price, market_value, unrealized_pnl, realized_pnl,
		industry, category, country, prev_close, day_change, day_change_percent, enriched_at, source`

// ReplaceAll заменяет набор позиций аккаунта целиком
//
// Delete + один multi-row INSERT в транзакции: позиции не удаляются
// поштучно, каждый цикл синхронизации пишет полный снимок. Замена
// ограничена парой (account_id, source), ручные записи не трогаются.
func (r *PositionRepository) ReplaceAll(ctx context.Context, accountID, source string, positions []models.EnrichedPosition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND source = $2`,
		accountID, source)
	if err != nil {
		return fmt.Errorf("delete positions: %w", err)
	}

	if len(positions) > 0 {
		query, args := buildPositionInsert(accountID, source, positions)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("bulk insert positions: %w", err)
		}
	}

	return tx.Commit()
}

// buildPositionInsert собирает один multi-row INSERT
func buildPositionInsert(accountID, source string, positions []models.EnrichedPosition) (string, []interface{}) {
	const cols = 21

	var sb strings.Builder
	sb.WriteString(`INSERT INTO positions (` + positionColumns + `) VALUES `)

	args := make([]interface{}, 0, len(positions)*cols)
	for i := range positions {
		p := &positions[i]
		if i > 0 {
			sb.WriteString(", ")
		}

		base := i * cols
		placeholders := make([]string, cols)
		for j := 0; j < cols; j++ {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		sb.WriteString("(" + strings.Join(placeholders, ", ") + ")")

		args = append(args,
			accountID, p.ConID, p.Symbol, p.SecType, p.Currency, p.Exchange, p.PrimaryExchange,
			p.Quantity, p.AvgCost, p.LastPrice, p.MarketValue, p.UnrealizedPNL, p.RealizedPNL,
			p.Industry, p.Category, p.Country, p.PrevClose, p.DayChange, p.DayChangePercent,
			p.EnrichedAt, source,
		)
	}

	return sb.String(), args
}

// GetByAccount возвращает все позиции аккаунта
func (r *PositionRepository) GetByAccount(ctx context.Context, accountID string) ([]models.EnrichedPosition, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE account_id = $1
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.EnrichedPosition
	for rows.Next() {
		var p models.EnrichedPosition
		err := rows.Scan(
			&p.AccountID, &p.ConID, &p.Symbol, &p.SecType, &p.Currency, &p.Exchange, &p.PrimaryExchange,
			&p.Quantity, &p.AvgCost, &p.LastPrice, &p.MarketValue, &p.UnrealizedPNL, &p.RealizedPNL,
			&p.Industry, &p.Category, &p.Country, &p.PrevClose, &p.DayChange, &p.DayChangePercent,
			&p.EnrichedAt, &p.Source,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}
