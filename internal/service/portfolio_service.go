package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"portsync/internal/config"
	"portsync/internal/gateway"
	"portsync/internal/models"
	"portsync/internal/repository"
	"portsync/pkg/retry"
	"portsync/pkg/utils"
)

// Ошибки оркестратора
var (
	// ErrRefreshInProgress - на аккаунте уже идёт цикл синхронизации.
	// Фоновый и ручной refresh взаимно исключены: две конкурентные
	// подписки на один аккаунт недопустимы.
	ErrRefreshInProgress = errors.New("refresh already in progress for this account")
)

// ============================================================
// IntegrationOrchestrator: полный цикл синхронизации портфеля
// ============================================================

// PortfolioService управляет циклами синхронизации аккаунтов
//
// Последовательность цикла: соединение -> подписка (download complete) ->
// обогащение -> запись -> чтение записанного снимка. Возвращается именно
// прочитанный из хранилища снимок, а не рабочая копия: вызывающий видит
// ровно то, что легло в БД.
type PortfolioService struct {
	gw        GatewayInterface
	enricher  EnrichmentInterface
	sync      SyncServiceInterface
	positions PositionRepositoryInterface
	cash      CashRepositoryInterface
	accounts  AccountRepositoryInterface
	events    EventPublisher
	cfg       config.SyncConfig
	log       *utils.Logger

	// Политика повторов подключения к шлюзу
	connectRetry retry.Config

	// Per-account мьютексы: TryLock вместо ожидания, конкурирующий
	// цикл получает ErrRefreshInProgress
	refreshMu sync.Mutex
	refreshes map[string]*sync.Mutex
}

var _ PortfolioServiceInterface = (*PortfolioService)(nil)

// NewPortfolioService создаёт оркестратор
//
// events == nil допустим: события жизненного цикла просто не рассылаются.
func NewPortfolioService(
	gw GatewayInterface,
	enricher EnrichmentInterface,
	syncSvc SyncServiceInterface,
	positions PositionRepositoryInterface,
	cash CashRepositoryInterface,
	accounts AccountRepositoryInterface,
	events EventPublisher,
	cfg config.SyncConfig,
	log *utils.Logger,
) *PortfolioService {
	s := &PortfolioService{
		gw:        gw,
		enricher:  enricher,
		sync:      syncSvc,
		positions: positions,
		cash:      cash,
		accounts:  accounts,
		events:    events,
		cfg:       cfg,
		log:       log.WithComponent("portfolio"),
		refreshes: make(map[string]*sync.Mutex),
	}
	s.connectRetry = s.defaultConnectRetry()
	return s
}

// defaultConnectRetry строит политику повторов подключения
//
// Транзиентные сетевые ошибки повторяются с backoff'ом. Дубликат client id
// не повторяется: шлюз будет отвечать тем же, пока оператор не освободит id.
func (s *PortfolioService) defaultConnectRetry() retry.Config {
	cfg := retry.NetworkConfig()
	cfg.RetryIf = func(err error) bool {
		if errors.Is(err, gateway.ErrClientIDInUse) {
			return false
		}
		return retry.RetryIfNotContext(err)
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.log.Warn("gateway connect failed, retrying",
			utils.Int("attempt", attempt),
			utils.String("delay", delay.String()),
			utils.Err(err))
	}
	return cfg
}

// accountMu возвращает мьютекс аккаунта
func (s *PortfolioService) accountMu(accountID string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	mu, ok := s.refreshes[accountID]
	if !ok {
		mu = &sync.Mutex{}
		s.refreshes[accountID] = mu
	}
	return mu
}

// Refresh выполняет полный цикл синхронизации аккаунта
//
// manual отличает ручной запуск от фонового: ручной дополнительно
// сбрасывает чёрный список облигаций.
func (s *PortfolioService) Refresh(ctx context.Context, accountID string, manual bool) (*models.AccountSnapshot, error) {
	mu := s.accountMu(accountID)
	if !mu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer mu.Unlock()

	start := time.Now()
	trigger := "auto"
	if manual {
		trigger = "manual"
	}

	if s.events != nil {
		s.events.PublishRefreshStarted(accountID, manual)
	}

	snapshot, err := s.doRefresh(ctx, accountID, manual)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RefreshCycles.WithLabelValues(trigger, outcome).Inc()
	RefreshDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())

	if s.events != nil {
		count := 0
		if snapshot != nil {
			count = len(snapshot.Positions)
		}
		s.events.PublishRefreshFinished(accountID, count, err)
	}

	return snapshot, err
}

func (s *PortfolioService) doRefresh(ctx context.Context, accountID string, manual bool) (*models.AccountSnapshot, error) {
	if manual {
		s.enricher.ResetBlacklist()
	}

	if err := retry.Do(ctx, func() error {
		return s.gw.EnsureConnected(ctx)
	}, s.connectRetry); err != nil {
		return nil, err
	}

	raw, err := s.gw.Subscribe(ctx, accountID, s.cfg.DownloadTimeout)
	if err != nil {
		return nil, err
	}
	// Поток закрывается сразу после снятия снимка: длинная подписка
	// держала бы канал занятым для следующего аккаунта
	defer s.gw.Unsubscribe()

	s.log.Info("snapshot downloaded",
		utils.Account(accountID),
		utils.Int("raw_positions", len(raw.Positions)))

	enriched := s.enricher.Enrich(ctx, raw.Positions)

	payload := &SyncPayload{
		Balance:   raw.Balance(),
		Positions: enriched,
		Cash:      raw.CashConversions(),
	}

	if err := s.sync.Sync(ctx, accountID, payload); err != nil {
		// Частичный провал записи: часть категорий легла, читаем
		// то, что есть, но ошибку наружу отдаём
		s.log.Error("snapshot sync incomplete", utils.Account(accountID), utils.Err(err))
		snapshot, readErr := s.GetSnapshot(ctx, accountID)
		if readErr != nil {
			return nil, err
		}
		return snapshot, err
	}

	// Read-after-write: вызывающий получает то, что реально записано
	return s.GetSnapshot(ctx, accountID)
}

// GetSnapshot возвращает последний записанный снимок аккаунта
//
// Никогда не трогает шлюз: используется вызывающими, которым нельзя
// генерировать живой трафик.
func (s *PortfolioService) GetSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	snapshot := &models.AccountSnapshot{AccountID: accountID}

	balance, err := s.accounts.GetBalance(ctx, accountID)
	if err != nil && !errors.Is(err, repository.ErrBalanceNotFound) {
		return nil, err
	}
	if balance != nil {
		snapshot.Balance = *balance
	}

	positions, err := s.positions.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snapshot.Positions = positions

	cash, err := s.cash.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snapshot.Cash = cash

	stamps, err := s.accounts.GetRefreshStamps(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snapshot.Refreshed = stamps

	return snapshot, nil
}

// RunAutoRefresh запускает фоновый цикл синхронизации
//
// Каждый интервал проходит по сконфигурированным аккаунтам и обновляет
// те, чей портфель устарел. Занятый аккаунт (идёт ручной refresh)
// пропускается до следующего тика.
func (s *PortfolioService) RunAutoRefresh(ctx context.Context) {
	if len(s.cfg.Accounts) == 0 {
		s.log.Info("auto refresh disabled: no accounts configured")
		return
	}

	ticker := time.NewTicker(s.cfg.AutoRefreshInterval)
	defer ticker.Stop()

	s.log.Info("auto refresh started",
		utils.Int("accounts", len(s.cfg.Accounts)),
		utils.String("interval", s.cfg.AutoRefreshInterval.String()))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("auto refresh stopped")
			return
		case <-ticker.C:
			s.refreshStaleAccounts(ctx)
		}
	}
}

func (s *PortfolioService) refreshStaleAccounts(ctx context.Context) {
	for _, accountID := range s.cfg.Accounts {
		if ctx.Err() != nil {
			return
		}

		if !s.isDue(ctx, accountID) {
			continue
		}

		if _, err := s.Refresh(ctx, accountID, false); err != nil {
			if errors.Is(err, ErrRefreshInProgress) {
				s.log.Debug("auto refresh skipped, account busy", utils.Account(accountID))
				continue
			}
			s.log.Error("auto refresh failed", utils.Account(accountID), utils.Err(err))
		}
	}
}

// isDue проверяет отметку обновления портфеля
func (s *PortfolioService) isDue(ctx context.Context, accountID string) bool {
	stamps, err := s.accounts.GetRefreshStamps(ctx, accountID)
	if err != nil {
		// Не можем прочитать отметки - обновляем на всякий случай
		return true
	}

	snapshot := models.AccountSnapshot{Refreshed: stamps}
	return snapshot.IsStale(models.RefreshCategoryPortfolio, s.cfg.AutoRefreshInterval)
}
