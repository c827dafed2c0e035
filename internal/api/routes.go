package api

import (
	"net/http"

	"portsync/internal/api/handlers"
	"portsync/internal/api/middleware"
	"portsync/internal/service"
	ws "portsync/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PortfolioService service.PortfolioServiceInterface
	Gateway          handlers.GatewayStatusProvider
	Throttle         handlers.ThrottleStatusProvider
	Accounts         service.AccountRepositoryInterface
	Hub              *ws.Hub

	// Аккаунты, отображаемые в /status
	WatchedAccounts []string

	// bcrypt-хеш токена для защищенных endpoints (пусто = без аутентификации)
	APITokenHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /portfolio/
//	│   ├── GET /{account} - снимок портфеля из хранилища
//	│   └── POST /{account}/refresh - принудительная синхронизация (auth)
//	└── /status - состояние шлюза, лимитера и отметки обновления
//
// /ws/
//
//	└── /stream - WebSocket для событий жизненного цикла синхронизации
//
// /metrics - Prometheus метрики
// /health - liveness probe
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. TokenAuth (только для refresh: endpoint генерирует живой трафик к шлюзу)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var portfolioHandler *handlers.PortfolioHandler
	if deps != nil && deps.PortfolioService != nil {
		portfolioHandler = handlers.NewPortfolioHandler(deps.PortfolioService)
	}

	var statusHandler *handlers.StatusHandler
	if deps != nil {
		statusHandler = handlers.NewStatusHandler(deps.Gateway, deps.Throttle, deps.Accounts, deps.WatchedAccounts)
	}

	var auth func(http.Handler) http.Handler
	if deps != nil {
		auth = middleware.TokenAuth(deps.APITokenHash)
	} else {
		auth = middleware.TokenAuth("")
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Portfolio routes
	if portfolioHandler != nil {
		api.HandleFunc("/portfolio/{account}", portfolioHandler.GetPortfolio).Methods("GET")
		api.Handle("/portfolio/{account}/refresh",
			auth(http.HandlerFunc(portfolioHandler.RefreshPortfolio))).Methods("POST")
	}

	// Status routes
	if statusHandler != nil {
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
