package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Схема хранилища портфеля
//
// Применяется идемпотентно на старте процесса: сервис обычно работает
// с выделенной БД, миграционный инструмент здесь был бы избыточен.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		id                  BIGSERIAL PRIMARY KEY,
		account_id          TEXT        NOT NULL,
		con_id              BIGINT      NOT NULL,
		symbol              TEXT        NOT NULL,
		sec_type            TEXT        NOT NULL,
		currency            TEXT        NOT NULL DEFAULT '',
		exchange            TEXT        NOT NULL DEFAULT '',
		primary_exchange    TEXT        NOT NULL DEFAULT '',
		quantity            DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_cost            DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_price          DOUBLE PRECISION NOT NULL DEFAULT 0,
		market_value        DOUBLE PRECISION NOT NULL DEFAULT 0,
		unrealized_pnl      DOUBLE PRECISION NOT NULL DEFAULT 0,
		realized_pnl        DOUBLE PRECISION NOT NULL DEFAULT 0,
		industry            TEXT        NOT NULL DEFAULT '',
		category            TEXT        NOT NULL DEFAULT '',
		country             TEXT        NOT NULL DEFAULT '',
		prev_close          DOUBLE PRECISION,
		day_change          DOUBLE PRECISION,
		day_change_percent  DOUBLE PRECISION,
		enriched_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		source              TEXT        NOT NULL DEFAULT 'gateway'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_account ON positions (account_id, source)`,

	`CREATE TABLE IF NOT EXISTS cash_balances (
		id         BIGSERIAL PRIMARY KEY,
		account_id TEXT   NOT NULL,
		currency   TEXT   NOT NULL,
		amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
		value_eur  DOUBLE PRECISION NOT NULL DEFAULT 0,
		value_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
		source     TEXT   NOT NULL DEFAULT 'gateway'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cash_account ON cash_balances (account_id, source)`,

	`CREATE TABLE IF NOT EXISTS account_balances (
		account_id TEXT PRIMARY KEY,
		amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency   TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_stamps (
		account_id   TEXT NOT NULL,
		category     TEXT NOT NULL,
		refreshed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (account_id, category)
	)`,

	`CREATE TABLE IF NOT EXISTS contract_refs (
		con_id     BIGINT PRIMARY KEY,
		symbol     TEXT NOT NULL DEFAULT '',
		industry   TEXT NOT NULL DEFAULT '',
		category   TEXT NOT NULL DEFAULT '',
		country    TEXT NOT NULL DEFAULT '',
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema создаёт таблицы хранилища, если их ещё нет
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
