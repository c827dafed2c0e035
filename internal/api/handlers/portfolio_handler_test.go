package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"portsync/internal/gateway"
	"portsync/internal/models"
	"portsync/internal/service"

	"github.com/gorilla/mux"
)

// ============================================================
// PortfolioHandler Tests
// ============================================================

func requestWithAccount(method, target, account string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return mux.SetURLVars(req, map[string]string{"account": account})
}

func TestPortfolioHandler_GetPortfolio(t *testing.T) {
	t.Run("returns snapshot successfully", func(t *testing.T) {
		mockSvc := &mockPortfolioService{snapshot: testSnapshot("U100")}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodGet, "/api/v1/portfolio/U100", "U100")
		w := httptest.NewRecorder()

		handler.GetPortfolio(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response models.AccountSnapshot
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response.AccountID != "U100" {
			t.Errorf("expected account U100, got %s", response.AccountID)
		}
		if len(response.Positions) != 1 || response.Positions[0].Symbol != "AAPL" {
			t.Errorf("unexpected positions: %+v", response.Positions)
		}
		if response.Balance.Amount != 250000.00 {
			t.Errorf("expected balance 250000.00, got %f", response.Balance.Amount)
		}
	})

	t.Run("returns 400 without account id", func(t *testing.T) {
		handler := NewPortfolioHandler(&mockPortfolioService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio/", nil)
		w := httptest.NewRecorder()

		handler.GetPortfolio(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("returns 500 when service is nil", func(t *testing.T) {
		handler := &PortfolioHandler{portfolioService: nil}

		req := requestWithAccount(http.MethodGet, "/api/v1/portfolio/U100", "U100")
		w := httptest.NewRecorder()

		handler.GetPortfolio(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})

	t.Run("returns 500 on service error", func(t *testing.T) {
		mockSvc := &mockPortfolioService{snapshotErr: ErrMockDatabase}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodGet, "/api/v1/portfolio/U100", "U100")
		w := httptest.NewRecorder()

		handler.GetPortfolio(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestPortfolioHandler_RefreshPortfolio(t *testing.T) {
	t.Run("runs manual refresh and returns fresh snapshot", func(t *testing.T) {
		mockSvc := &mockPortfolioService{snapshot: testSnapshot("U100")}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodPost, "/api/v1/portfolio/U100/refresh", "U100")
		w := httptest.NewRecorder()

		handler.RefreshPortfolio(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if mockSvc.refreshCalls != 1 {
			t.Errorf("expected 1 refresh call, got %d", mockSvc.refreshCalls)
		}
		if !mockSvc.lastManual {
			t.Error("API refresh must run as manual (resets bond blacklist)")
		}

		var response models.AccountSnapshot
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Balance.Amount != 250000.00 {
			t.Errorf("expected fresh balance in response, got %f", response.Balance.Amount)
		}
	})

	t.Run("returns 409 when refresh already in progress", func(t *testing.T) {
		mockSvc := &mockPortfolioService{refreshErr: service.ErrRefreshInProgress}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodPost, "/api/v1/portfolio/U100/refresh", "U100")
		w := httptest.NewRecorder()

		handler.RefreshPortfolio(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
		}
	})

	t.Run("returns 502 when gateway is unreachable", func(t *testing.T) {
		mockSvc := &mockPortfolioService{refreshErr: gateway.ErrConnectTimeout}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodPost, "/api/v1/portfolio/U100/refresh", "U100")
		w := httptest.NewRecorder()

		handler.RefreshPortfolio(w, req)

		if w.Code != http.StatusBadGateway {
			t.Errorf("expected status %d, got %d", http.StatusBadGateway, w.Code)
		}
	})

	t.Run("returns 502 when client id is taken", func(t *testing.T) {
		mockSvc := &mockPortfolioService{refreshErr: gateway.ErrClientIDInUse}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodPost, "/api/v1/portfolio/U100/refresh", "U100")
		w := httptest.NewRecorder()

		handler.RefreshPortfolio(w, req)

		if w.Code != http.StatusBadGateway {
			t.Errorf("expected status %d, got %d", http.StatusBadGateway, w.Code)
		}
	})

	t.Run("returns 500 on persistence error", func(t *testing.T) {
		mockSvc := &mockPortfolioService{refreshErr: ErrMockDatabase}
		handler := NewPortfolioHandler(mockSvc)

		req := requestWithAccount(http.MethodPost, "/api/v1/portfolio/U100/refresh", "U100")
		w := httptest.NewRecorder()

		handler.RefreshPortfolio(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
