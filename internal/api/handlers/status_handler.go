package handlers

import (
	"net/http"

	"portsync/internal/models"
	"portsync/internal/service"
	"portsync/pkg/ratelimit"
	"portsync/pkg/utils"
)

// GatewayStatusProvider - узкий интерфейс состояния соединения со шлюзом
type GatewayStatusProvider interface {
	Connected() bool
}

// ThrottleStatusProvider - узкий интерфейс состояния лимитера запросов
type ThrottleStatusProvider interface {
	Status() ratelimit.Status
}

// AccountStatus - состояние синхронизации одного аккаунта
type AccountStatus struct {
	AccountID string                `json:"account_id"`
	Refreshed []models.RefreshStamp `json:"refreshed"`
}

// StatusResponse - агрегированное состояние движка
type StatusResponse struct {
	GatewayConnected bool             `json:"gateway_connected"`
	RateLimit        ratelimit.Status `json:"rate_limit"`
	Accounts         []AccountStatus  `json:"accounts"`
}

// StatusHandler отдает оперативное состояние движка
//
// Endpoints:
// - GET /api/v1/status - соединение со шлюзом, лимитер, отметки обновления
//
// Endpoint не инициирует никакой активности: читает только состояние
// в памяти и отметки обновления из БД.
type StatusHandler struct {
	gw       GatewayStatusProvider
	throttle ThrottleStatusProvider
	accounts service.AccountRepositoryInterface
	watched  []string
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимостей.
//
// watched - аккаунты, попадающие в отчет (как правило из SYNC_ACCOUNTS).
func NewStatusHandler(
	gw GatewayStatusProvider,
	throttle ThrottleStatusProvider,
	accounts service.AccountRepositoryInterface,
	watched []string,
) *StatusHandler {
	return &StatusHandler{
		gw:       gw,
		throttle: throttle,
		accounts: accounts,
		watched:  watched,
	}
}

// GetStatus возвращает агрегированное состояние движка.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "gateway_connected": true,
//	  "rate_limit": {"window_used": 12, "window_limit": 60, "cooldown_remaining": 0},
//	  "accounts": [
//	    {
//	      "account_id": "U1234567",
//	      "refreshed": [
//	        {"category": "balance", "refreshed_at": "2026-08-28T10:15:01Z"},
//	        {"category": "portfolio", "refreshed_at": "2026-08-28T10:15:01Z"}
//	      ]
//	    }
//	  ]
//	}
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Accounts: make([]AccountStatus, 0, len(h.watched)),
	}

	if h.gw != nil {
		resp.GatewayConnected = h.gw.Connected()
	}
	if h.throttle != nil {
		resp.RateLimit = h.throttle.Status()
	}

	for _, accountID := range h.watched {
		status := AccountStatus{AccountID: accountID, Refreshed: []models.RefreshStamp{}}
		if h.accounts != nil {
			stamps, err := h.accounts.GetRefreshStamps(r.Context(), accountID)
			if err != nil {
				utils.Warn("failed to read refresh stamps", utils.Account(accountID), utils.Err(err))
			} else {
				status.Refreshed = stamps
			}
		}
		resp.Accounts = append(resp.Accounts, status)
	}

	writeJSON(w, http.StatusOK, resp)
}
