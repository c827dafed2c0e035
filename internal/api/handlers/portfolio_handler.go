package handlers

import (
	"errors"
	"net/http"

	"portsync/internal/gateway"
	"portsync/internal/service"
	"portsync/pkg/utils"

	"github.com/gorilla/mux"
)

// PortfolioHandler обрабатывает HTTP запросы портфельных данных
//
// Endpoints:
// - GET /api/v1/portfolio/{account} - снимок портфеля из хранилища
// - POST /api/v1/portfolio/{account}/refresh - принудительная синхронизация
//
// Чтение снимка никогда не трогает шлюз: отдаются последние
// синхронизированные данные с отметками времени обновления.
// Refresh запускает полный цикл connect -> subscribe -> enrich -> persist
// и отвечает только после записи в БД.
type PortfolioHandler struct {
	portfolioService service.PortfolioServiceInterface
}

// NewPortfolioHandler создает новый PortfolioHandler с внедрением зависимостей.
func NewPortfolioHandler(portfolioService service.PortfolioServiceInterface) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: portfolioService,
	}
}

// GetPortfolio возвращает последний синхронизированный снимок аккаунта.
//
// GET /api/v1/portfolio/{account}
//
// Response 200 OK:
//
//	{
//	  "account_id": "U1234567",
//	  "balance": {"account_id": "U1234567", "amount": 250000.00, "currency": "EUR", "updated_at": "..."},
//	  "positions": [
//	    {"symbol": "AAPL", "sec_type": "STK", "quantity": 100, "last_price": 192.30, ...}
//	  ],
//	  "cash": [
//	    {"currency": "EUR", "amount": 10000, "value_eur": 10000, "value_usd": 10850}
//	  ],
//	  "refreshed": [
//	    {"category": "portfolio", "refreshed_at": "2026-08-28T10:15:00Z"}
//	  ]
//	}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	if h.portfolioService == nil {
		writeError(w, http.StatusInternalServerError, "portfolio service not available")
		return
	}

	accountID := mux.Vars(r)["account"]
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account id is required")
		return
	}

	snapshot, err := h.portfolioService.GetSnapshot(r.Context(), accountID)
	if err != nil {
		utils.Error("failed to load snapshot", utils.Account(accountID), utils.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// RefreshPortfolio запускает полный цикл синхронизации аккаунта.
//
// POST /api/v1/portfolio/{account}/refresh
//
// Блокирующий вызов: ответ приходит после записи данных в БД и содержит
// свежий снимок. Если по аккаунту уже идет синхронизация (ручная или
// фоновая), возвращается 409 Conflict без ожидания.
//
// Response 409 Conflict:
//
//	{"error": "refresh already in progress"}
//
// Response 502 Bad Gateway: шлюз недоступен или отклонил подключение.
func (h *PortfolioHandler) RefreshPortfolio(w http.ResponseWriter, r *http.Request) {
	if h.portfolioService == nil {
		writeError(w, http.StatusInternalServerError, "portfolio service not available")
		return
	}

	accountID := mux.Vars(r)["account"]
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account id is required")
		return
	}

	snapshot, err := h.portfolioService.Refresh(r.Context(), accountID, true)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshInProgress):
			writeError(w, http.StatusConflict, "refresh already in progress")
		case errors.Is(err, gateway.ErrConnectTimeout),
			errors.Is(err, gateway.ErrClientIDInUse),
			errors.Is(err, gateway.ErrNotConnected):
			utils.Error("gateway unavailable during refresh", utils.Account(accountID), utils.Err(err))
			writeError(w, http.StatusBadGateway, "gateway unavailable")
		default:
			utils.Error("refresh failed", utils.Account(accountID), utils.Err(err))
			// Частичный провал персистентности: данные могли записаться
			// не полностью, снимок при этом отражает фактическое состояние БД
			writeError(w, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
