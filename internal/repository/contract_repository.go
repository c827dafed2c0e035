package repository

import (
	"context"
	"database/sql"
	"errors"

	"portsync/internal/models"
)

// ContractRepository - долговременный уровень кэша справочников контрактов
//
// Реализует enrich.RefStore: справочные атрибуты контракта переживают
// рестарты процесса и экономят лимитированные запросы к шлюзу.
type ContractRepository struct {
	db *sql.DB
}

// NewContractRepository создает новый экземпляр репозитория
func NewContractRepository(db *sql.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// GetContractRef возвращает справочник контракта (nil, nil если нет)
func (r *ContractRepository) GetContractRef(ctx context.Context, conID int64) (*models.ContractReference, error) {
	query := `
		SELECT con_id, symbol, industry, category, country, fetched_at
		FROM contract_refs
		WHERE con_id = $1`

	ref := &models.ContractReference{}
	err := r.db.QueryRowContext(ctx, query, conID).Scan(
		&ref.ConID, &ref.Symbol, &ref.Industry, &ref.Category, &ref.Country, &ref.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return ref, nil
}

// PutContractRef сохраняет справочник контракта
func (r *ContractRepository) PutContractRef(ctx context.Context, ref *models.ContractReference) error {
	query := `
		INSERT INTO contract_refs (con_id, symbol, industry, category, country, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (con_id)
		DO UPDATE SET symbol = EXCLUDED.symbol, industry = EXCLUDED.industry,
			category = EXCLUDED.category, country = EXCLUDED.country, fetched_at = EXCLUDED.fetched_at`

	_, err := r.db.ExecContext(ctx, query,
		ref.ConID, ref.Symbol, ref.Industry, ref.Category, ref.Country, ref.FetchedAt)
	return err
}
