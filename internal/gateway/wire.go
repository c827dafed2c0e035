package gateway

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// jsoniter вместо encoding/json: кадры шлюза декодируются в горячем цикле
// read pump, на больших портфелях это сотни сообщений за один download.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Протокол шлюза: JSON-кадры поверх WebSocket
// ============================================================

// Типы входящих сообщений
const (
	MsgConnected          = "connected"
	MsgDisconnected       = "disconnected"
	MsgError              = "error"
	MsgAccountValue       = "accountValue"
	MsgPortfolioPosition  = "portfolioPosition"
	MsgAccountDownloadEnd = "accountDownloadEnd"
	MsgAccountSummary     = "accountSummary"
	MsgAccountSummaryEnd  = "accountSummaryEnd"
	MsgContractDetails    = "contractDetails"
	MsgContractDetailsEnd = "contractDetailsEnd"
	MsgHistoricalBar      = "historicalData"
	MsgTickPrice          = "tickPrice"
	MsgPong               = "pong"
)

// Типы исходящих сообщений
const (
	MsgConnect              = "connect"
	MsgAccountUpdates       = "reqAccountUpdates"
	MsgReqAccountSummary    = "reqAccountSummary"
	MsgCancelAccountSummary = "cancelAccountSummary"
	MsgReqContractDetails   = "reqContractDetails"
	MsgReqHistoricalData    = "reqHistoricalData"
	MsgReqMarketDataTick    = "reqMktData"
	MsgCancelMarketDataTick = "cancelMktData"
	MsgPing                 = "ping"
)

// Коды ошибок шлюза
//
// Полный справочник кодов у провайдера обширен; здесь только те,
// на которые движок реагирует особым образом.
const (
	// Клиентский идентификатор уже занят другим процессом.
	// Фатально для попытки подключения, retry бессмысленен.
	CodeClientIDInUse = 326

	// Pacing violation: превышен темп запросов исторических данных
	CodeHistoricalPacing = 162
	CodePacingViolation  = 420

	// Разрыв соединения с фермой рыночных данных
	CodeMarketFarmDisconnect = 2103
	CodeHistFarmDisconnect   = 2105
)

// PacingCode сообщает, требует ли код ошибки глобального cooldown
func PacingCode(code int) bool {
	switch code {
	case CodeHistoricalPacing, CodePacingViolation,
		CodeMarketFarmDisconnect, CodeHistFarmDisconnect:
		return true
	}
	return false
}

// Типы тиков для снимка котировки облигации
const (
	TickLast      = "last"
	TickPrevClose = "close"
	TickBid       = "bid"
	TickAsk       = "ask"
)

// WireContract - контракт в кадрах портфеля и запросах данных
type WireContract struct {
	ConID           int64  `json:"conId"`
	Symbol          string `json:"symbol"`
	SecType         string `json:"secType"`
	Currency        string `json:"currency"`
	Exchange        string `json:"exchange,omitempty"`
	PrimaryExchange string `json:"primaryExchange,omitempty"`
}

// WireContractDetails - ответ на запрос contract details
type WireContractDetails struct {
	Contract WireContract `json:"contract"`
	Industry string       `json:"industry,omitempty"`
	Category string       `json:"category,omitempty"`
	LongName string       `json:"longName,omitempty"`
}

// WireBar - один исторический бар
//
// Шлюз завершает серию сентинельным баром, у которого Date
// начинается с "finished".
type WireBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Finished проверяет сентинельный бар конца серии
func (b *WireBar) Finished() bool {
	return strings.HasPrefix(b.Date, "finished")
}

// Frame - один кадр протокола шлюза в любом направлении
//
// Плоская структура: заполняются только поля, относящиеся к Type.
// Такой формат проще версионировать, чем вложенные envelope-структуры,
// и дешевле декодировать.
type Frame struct {
	Type  string `json:"type"`
	ReqID int64  `json:"reqId,omitempty"`

	// connect
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	ClientID int    `json:"clientId,omitempty"`

	// error
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// accountValue / accountSummary
	Account  string `json:"account,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Value    string `json:"value,omitempty"`
	Currency string `json:"currency,omitempty"`

	// portfolioPosition / запросы справочных данных
	Contract      *WireContract `json:"contract,omitempty"`
	Quantity      float64       `json:"quantity,omitempty"`
	MarketPrice   float64       `json:"marketPrice,omitempty"`
	MarketValue   float64       `json:"marketValue,omitempty"`
	AvgCost       float64       `json:"avgCost,omitempty"`
	UnrealizedPNL float64       `json:"unrealizedPnl,omitempty"`
	RealizedPNL   float64       `json:"realizedPnl,omitempty"`

	// reqAccountUpdates
	Subscribe bool `json:"subscribe,omitempty"`

	// reqAccountSummary
	Scope string   `json:"scope,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	// reqHistoricalData
	Duration   string `json:"duration,omitempty"`
	BarSize    string `json:"barSize,omitempty"`
	WhatToShow string `json:"whatToShow,omitempty"`
	UseRTH     bool   `json:"useRTH,omitempty"`

	// contractDetails
	Details *WireContractDetails `json:"details,omitempty"`

	// historicalData
	Bar *WireBar `json:"bar,omitempty"`

	// tickPrice
	TickType string  `json:"tickType,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// EncodeFrame сериализует кадр для отправки
func EncodeFrame(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame разбирает входящий кадр
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
