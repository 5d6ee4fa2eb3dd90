package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/goroutine"
)

// Hub раздаёт события жизненного цикла проектов подключённым пользователям.
// Персистентность уведомлений лежит на сервисе уведомлений; хаб отвечает
// только за realtime-доставку.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

// NewHub создаёт новый хаб.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
	}
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Push отправляет полезную нагрузку всем соединениям пользователя.
// Доставка best-effort: отсутствие соединений не является ошибкой.
func (h *Hub) Push(userID uuid.UUID, payload []byte) {
	h.broadcast <- message{userID: userID, payload: payload}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Медленный клиент: закрываем соединение, не блокируя остальных.
			c := client
			goroutine.SafeGo(func() {
				c.Close()
			})
			logrus.WithField("user_id", userID).Debug("ws: буфер клиента переполнен, соединение закрыто")
		}
	}
}
