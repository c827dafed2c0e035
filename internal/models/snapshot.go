package models

import "time"

// Категории данных для отметок последнего обновления
const (
	RefreshCategoryBalance   = "balance"
	RefreshCategoryPortfolio = "portfolio"
	RefreshCategoryCash      = "cash"
)

// Balance - суммарная оценка аккаунта в базовой валюте (NetLiquidation)
type Balance struct {
	AccountID string    `json:"account_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefreshStamp - отметка последнего успешного обновления категории данных
//
// Используется вызывающим кодом для решения, пора ли запускать фоновую
// синхронизацию, не трогая шлюз.
type RefreshStamp struct {
	AccountID   string    `json:"account_id"`
	Category    string    `json:"category"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// AccountSnapshot - единица персистентности: полное состояние одного аккаунта
type AccountSnapshot struct {
	AccountID string             `json:"account_id"`
	Balance   Balance            `json:"balance"`
	Positions []EnrichedPosition `json:"positions"`
	Cash      []CashBalance      `json:"cash"`
	Refreshed []RefreshStamp     `json:"refreshed"`
}

// RefreshedAt возвращает отметку обновления категории (zero time если нет)
func (s *AccountSnapshot) RefreshedAt(category string) time.Time {
	for _, st := range s.Refreshed {
		if st.Category == category {
			return st.RefreshedAt
		}
	}
	return time.Time{}
}

// IsStale возвращает true если категория не обновлялась дольше maxAge
func (s *AccountSnapshot) IsStale(category string, maxAge time.Duration) bool {
	at := s.RefreshedAt(category)
	if at.IsZero() {
		return true
	}
	return time.Since(at) > maxAge
}
