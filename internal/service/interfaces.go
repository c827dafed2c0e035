package service

import (
	"context"
	"time"

	"portsync/internal/gateway"
	"portsync/internal/models"
)

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	ReplaceAll(ctx context.Context, accountID, source string, positions []models.EnrichedPosition) error
	GetByAccount(ctx context.Context, accountID string) ([]models.EnrichedPosition, error)
}

// CashRepositoryInterface определяет интерфейс репозитория валютных остатков
type CashRepositoryInterface interface {
	ReplaceAll(ctx context.Context, accountID, source string, balances []models.CashBalance) error
	GetByAccount(ctx context.Context, accountID string) ([]models.CashBalance, error)
}

// AccountRepositoryInterface определяет интерфейс репозитория аккаунтов
type AccountRepositoryInterface interface {
	UpsertBalance(ctx context.Context, b *models.Balance) error
	GetBalance(ctx context.Context, accountID string) (*models.Balance, error)
	TouchRefresh(ctx context.Context, accountID, category string) error
	GetRefreshStamps(ctx context.Context, accountID string) ([]models.RefreshStamp, error)
}

// GatewayInterface определяет интерфейс шлюзового фасада
type GatewayInterface interface {
	EnsureConnected(ctx context.Context) error
	Connected() bool
	Subscribe(ctx context.Context, accountID string, timeout time.Duration) (*gateway.RawSnapshot, error)
	Unsubscribe()
	Disconnect()
}

// EnrichmentInterface определяет интерфейс пайплайна обогащения
type EnrichmentInterface interface {
	Enrich(ctx context.Context, positions []models.Position) []models.EnrichedPosition
	ResetBlacklist()
}

// SyncServiceInterface определяет интерфейс сервиса персистентности
type SyncServiceInterface interface {
	Sync(ctx context.Context, accountID string, snapshot *SyncPayload) error
}

// EventPublisher рассылает события жизненного цикла синхронизации
// подписчикам (WebSocket hub)
type EventPublisher interface {
	PublishRefreshStarted(accountID string, manual bool)
	PublishRefreshFinished(accountID string, positions int, err error)
}

// PortfolioServiceInterface определяет интерфейс портфельного сервиса
// для API handlers
type PortfolioServiceInterface interface {
	Refresh(ctx context.Context, accountID string, manual bool) (*models.AccountSnapshot, error)
	GetSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error)
}
