package websocket

import "time"

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeRefreshStarted - начат цикл синхронизации аккаунта
	// Отправляется при запуске как ручного, так и фонового refresh
	MessageTypeRefreshStarted MessageType = "refreshStarted"

	// MessageTypeRefreshFinished - цикл синхронизации завершен
	// Отправляется после записи в БД (или после провала цикла)
	MessageTypeRefreshFinished MessageType = "refreshFinished"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RefreshStartedMessage - сообщение о начале синхронизации
type RefreshStartedMessage struct {
	BaseMessage
	AccountID string `json:"account_id"`
	// Manual = true для refresh через API, false для фонового цикла
	Manual bool `json:"manual"`
}

// RefreshFinishedMessage - сообщение о завершении синхронизации
//
// Получив его, frontend перечитывает снимок через REST вместо
// поддержания отдельного потока данных портфеля.
type RefreshFinishedMessage struct {
	BaseMessage
	AccountID string `json:"account_id"`
	Success   bool   `json:"success"`
	Positions int    `json:"positions"`
	Error     string `json:"error,omitempty"`
}

// NewRefreshStartedMessage создает сообщение о начале синхронизации
func NewRefreshStartedMessage(accountID string, manual bool) *RefreshStartedMessage {
	return &RefreshStartedMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRefreshStarted,
			Timestamp: time.Now(),
		},
		AccountID: accountID,
		Manual:    manual,
	}
}

// NewRefreshFinishedMessage создает сообщение о завершении синхронизации
func NewRefreshFinishedMessage(accountID string, positions int, err error) *RefreshFinishedMessage {
	msg := &RefreshFinishedMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRefreshFinished,
			Timestamp: time.Now(),
		},
		AccountID: accountID,
		Success:   err == nil,
		Positions: positions,
	}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}
