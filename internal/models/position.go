package models

import "time"

// Типы инструментов, как их сообщает шлюз
const (
	SecTypeStock  = "STK"
	SecTypeETF    = "ETF"
	SecTypeCrypto = "CRYPTO"
	SecTypeBond   = "BOND"
	SecTypeOption = "OPT"
	SecTypeFuture = "FUT"
	// Кассовые позиции приходят тем же потоком portfolio updates,
	// но помечены выделенным типом и уходят в кассовый аккумулятор
	SecTypeCash = "CASH"
)

// Источники данных для записей портфеля
const (
	SourceGateway = "gateway" // синхронизировано со шлюза
	SourceManual  = "manual"  // введено пользователем вручную
)

// Position - одна строка портфеля из streaming-обновления шлюза
//
// Ключ внутри аккаунта - ConID (contract id шлюза, стабилен между сессиями).
// Повторные обновления того же ConID мутируют запись на месте; по отдельности
// позиции не удаляются - набор аккаунта заменяется целиком при каждом цикле.
type Position struct {
	AccountID       string  `json:"account_id"`
	ConID           int64   `json:"con_id"`
	Symbol          string  `json:"symbol"`
	SecType         string  `json:"sec_type"`
	Currency        string  `json:"currency"`
	Exchange        string  `json:"exchange"`
	PrimaryExchange string  `json:"primary_exchange"`
	Quantity        float64 `json:"quantity"`
	AvgCost         float64 `json:"avg_cost"`
	LastPrice       float64 `json:"last_price"`
	MarketValue     float64 `json:"market_value"`
	UnrealizedPNL   float64 `json:"unrealized_pnl"`
	RealizedPNL     float64 `json:"realized_pnl"`
	Source          string  `json:"source"`
}

// IsCash возвращает true для кассовой позиции (FX остаток, не инструмент)
func (p *Position) IsCash() bool {
	return p.SecType == SecTypeCash
}

// EnrichedPosition - Position, дополненная справочными данными и previous close
//
// DayChange/DayChangePercent - указатели: nil означает "не вычислимо"
// (нет previous close, нулевые/отрицательные цены или цены совпадают).
type EnrichedPosition struct {
	Position

	Industry string `json:"industry,omitempty"`
	Category string `json:"category,omitempty"`
	Country  string `json:"country,omitempty"`

	PrevClose        *float64 `json:"prev_close,omitempty"`
	DayChange        *float64 `json:"day_change,omitempty"`
	DayChangePercent *float64 `json:"day_change_percent,omitempty"`

	EnrichedAt time.Time `json:"enriched_at"`
}

// CashBalance - валютный остаток аккаунта
//
// ValueEUR/ValueUSD - пересчёт в две фиксированные отчётные валюты,
// выполняется шлюзом (тег CashBalance приходит по одному разу на валюту).
type CashBalance struct {
	AccountID string  `json:"account_id"`
	Currency  string  `json:"currency"`
	Amount    float64 `json:"amount"`
	ValueEUR  float64 `json:"value_eur"`
	ValueUSD  float64 `json:"value_usd"`
}
