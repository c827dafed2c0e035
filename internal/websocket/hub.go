package websocket

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"

	"portsync/internal/service"
	"portsync/pkg/utils"
)

// Пул JSON буферов: убирает аллокации при каждом Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast событий жизненного цикла
// синхронизации всем подключенным клиентам. Frontend узнает о начале
// и завершении циклов без polling; данные портфеля он перечитывает
// через REST после refreshFinished.
//
// Функции:
// - Регистрация/отмена регистрации WebSocket клиентов
// - Broadcast сообщений всем активным клиентам
// - Отключение медленных клиентов (переполненный send-буфер)
// - Потокобезопасная работа с клиентами
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Передать как service.EventPublisher в PortfolioService
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	// Счетчик сообщений, отброшенных при переполнении broadcast канала
	dropped atomic.Int64

	mu sync.RWMutex
}

// Hub рассылает события синхронизации, инициированные сервисом
var _ service.EventPublisher = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Возвращается после Stop(), закрыв каналы всех клиентов.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			utils.Debug("websocket client connected", utils.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			utils.Debug("websocket client disconnected", utils.Int("total", total))

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock, отправляем без
			// блокировки, медленных удаляем отдельным проходом под Lock
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				utils.Warn("removed slow websocket clients",
					utils.Int("removed", len(toRemove)),
					utils.Int("total", total))
			}

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop останавливает цикл Hub и отключает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Broadcast сериализует сообщение и рассылает всем клиентам
//
// Неблокирующий: при переполнении канала сообщение отбрасывается,
// рассылка событий не должна тормозить цикл синхронизации.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		utils.Error("failed to marshal broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode дописывает trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw рассылает уже сериализованное сообщение
func (h *Hub) BroadcastRaw(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.stop:
	default:
		h.dropped.Add(1)
	}
}

// PublishRefreshStarted рассылает событие начала синхронизации аккаунта
func (h *Hub) PublishRefreshStarted(accountID string, manual bool) {
	h.Broadcast(NewRefreshStartedMessage(accountID, manual))
}

// PublishRefreshFinished рассылает событие завершения синхронизации
func (h *Hub) PublishRefreshFinished(accountID string, positions int, err error) {
	h.Broadcast(NewRefreshFinishedMessage(accountID, positions, err))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
