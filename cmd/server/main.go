package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portsync/internal/api"
	"portsync/internal/config"
	"portsync/internal/enrich"
	"portsync/internal/gateway"
	"portsync/internal/refdata"
	"portsync/internal/repository"
	"portsync/internal/service"
	ws "portsync/internal/websocket"
	"portsync/pkg/ratelimit"
	"portsync/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", utils.Err(err))
	}
	defer db.Close()

	logger.Info("connected to database",
		utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	ctx := context.Background()
	if err := repository.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("failed to ensure database schema", utils.Err(err))
	}

	// Инициализация репозиториев
	positionRepo := repository.NewPositionRepository(db)
	cashRepo := repository.NewCashRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	contractRepo := repository.NewContractRepository(db)
	settingsRepo := repository.NewSettingsRepository(db, []byte(cfg.Security.EncryptionKey))

	// API ключ провайдера: значение из БД (зашифровано) имеет приоритет
	// над переменной окружения
	refCfg := cfg.RefData
	if key, err := settingsRepo.GetSecret(ctx, repository.SettingRefDataAPIKey); err == nil && key != "" {
		refCfg.APIKey = key
	} else if err != nil && !errors.Is(err, repository.ErrSettingNotFound) {
		logger.Warn("failed to load provider api key from settings", utils.Err(err))
	}

	// Лимитер справочных запросов к шлюзу
	throttle := ratelimit.NewThrottle(ratelimit.Config{
		WindowLimit: cfg.RateLimit.WindowLimit,
		Window:      cfg.RateLimit.Window,
		MinSpacing:  cfg.RateLimit.MinSpacing,
		Cooldown:    cfg.RateLimit.Cooldown,
	})

	// Клиент торгового шлюза
	gwClient := gateway.NewClient(cfg.Gateway, throttle, gateway.DialWS, logger)
	defer gwClient.Close()

	// Пайплайн обогащения: провайдер котировок + исторические бары шлюза
	provider := refdata.NewClient(refCfg, logger)
	cache := enrich.NewCache(contractRepo, logger)
	pipeline := enrich.NewPipeline(gwClient, provider, cache, logger)

	// WebSocket hub для событий жизненного цикла синхронизации
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Инициализация сервисов
	syncService := service.NewSyncService(positionRepo, cashRepo, accountRepo, logger)
	portfolioService := service.NewPortfolioService(
		gwClient,
		pipeline,
		syncService,
		positionRepo,
		cashRepo,
		accountRepo,
		hub,
		cfg.Sync,
		logger,
	)

	// Фоновая синхронизация просроченных аккаунтов
	autoCtx, stopAuto := context.WithCancel(ctx)
	defer stopAuto()
	go portfolioService.RunAutoRefresh(autoCtx)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		PortfolioService: portfolioService,
		Gateway:          gwClient,
		Throttle:         throttle,
		Accounts:         accountRepo,
		Hub:              hub,
		WatchedAccounts:  cfg.Sync.Accounts,
		APITokenHash:     cfg.Security.APITokenHash,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // refresh отвечает после полного цикла
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", utils.Err(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", utils.Err(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Останавливаем фоновую синхронизацию и разрываем сессию шлюза
	stopAuto()
	gwClient.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", utils.Err(err))
	}

	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
