package service

import (
	"context"
	"errors"
	"fmt"

	"portsync/internal/models"
	"portsync/pkg/utils"
)

// ============================================================
// PersistenceSync: запись снимка в долговременное хранилище
// ============================================================

// SyncPayload - снимок одного цикла синхронизации перед записью
type SyncPayload struct {
	Balance   models.Balance
	Positions []models.EnrichedPosition
	Cash      []models.CashBalance
}

// SyncService пишет снимок аккаунта тремя независимыми под-операциями
//
// Баланс, портфель и валютные остатки записываются отдельно: провал
// одной под-операции логируется и не блокирует остальные. Каждая
// успешная под-операция ставит отметку обновления своей категории.
type SyncService struct {
	positions PositionRepositoryInterface
	cash      CashRepositoryInterface
	accounts  AccountRepositoryInterface
	log       *utils.Logger
}

var _ SyncServiceInterface = (*SyncService)(nil)

// NewSyncService создаёт сервис персистентности
func NewSyncService(
	positions PositionRepositoryInterface,
	cash CashRepositoryInterface,
	accounts AccountRepositoryInterface,
	log *utils.Logger,
) *SyncService {
	return &SyncService{
		positions: positions,
		cash:      cash,
		accounts:  accounts,
		log:       log.WithComponent("sync"),
	}
}

// Sync записывает снимок аккаунта
//
// Возвращает объединённую ошибку, если хотя бы одна под-операция
// провалилась; успешные под-операции при этом уже зафиксированы.
func (s *SyncService) Sync(ctx context.Context, accountID string, payload *SyncPayload) error {
	var errs []error

	if err := s.syncBalance(ctx, accountID, payload); err != nil {
		errs = append(errs, fmt.Errorf("balance: %w", err))
	}
	if err := s.syncPositions(ctx, accountID, payload); err != nil {
		errs = append(errs, fmt.Errorf("positions: %w", err))
	}
	if err := s.syncCash(ctx, accountID, payload); err != nil {
		errs = append(errs, fmt.Errorf("cash: %w", err))
	}

	return errors.Join(errs...)
}

func (s *SyncService) syncBalance(ctx context.Context, accountID string, payload *SyncPayload) error {
	if err := s.accounts.UpsertBalance(ctx, &payload.Balance); err != nil {
		SyncWrites.WithLabelValues(models.RefreshCategoryBalance, "error").Inc()
		s.log.Error("balance sync failed", utils.Account(accountID), utils.Err(err))
		return err
	}

	s.touch(ctx, accountID, models.RefreshCategoryBalance)
	SyncWrites.WithLabelValues(models.RefreshCategoryBalance, "ok").Inc()
	return nil
}

func (s *SyncService) syncPositions(ctx context.Context, accountID string, payload *SyncPayload) error {
	err := s.positions.ReplaceAll(ctx, accountID, models.SourceGateway, payload.Positions)
	if err != nil {
		SyncWrites.WithLabelValues(models.RefreshCategoryPortfolio, "error").Inc()
		s.log.Error("positions sync failed", utils.Account(accountID), utils.Err(err))
		return err
	}

	s.touch(ctx, accountID, models.RefreshCategoryPortfolio)
	SyncWrites.WithLabelValues(models.RefreshCategoryPortfolio, "ok").Inc()
	s.log.Info("positions synced",
		utils.Account(accountID),
		utils.Int("count", len(payload.Positions)))
	return nil
}

func (s *SyncService) syncCash(ctx context.Context, accountID string, payload *SyncPayload) error {
	err := s.cash.ReplaceAll(ctx, accountID, models.SourceGateway, payload.Cash)
	if err != nil {
		SyncWrites.WithLabelValues(models.RefreshCategoryCash, "error").Inc()
		s.log.Error("cash sync failed", utils.Account(accountID), utils.Err(err))
		return err
	}

	s.touch(ctx, accountID, models.RefreshCategoryCash)
	SyncWrites.WithLabelValues(models.RefreshCategoryCash, "ok").Inc()
	return nil
}

// touch ставит отметку обновления; её провал не считается провалом
// под-операции, данные уже записаны
func (s *SyncService) touch(ctx context.Context, accountID, category string) {
	if err := s.accounts.TouchRefresh(ctx, accountID, category); err != nil {
		s.log.Warn("refresh stamp failed",
			utils.Account(accountID),
			utils.Category(category),
			utils.Err(err))
	}
}
