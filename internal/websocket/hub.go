package websocket

import (
	"context"
	"sync"

	"github.com/englivo/englivo-backend/pkg/distributed"
	"go.uber.org/zap"
)

// Presence 연결 상태를 접속 여부로 반영 (distributed.RedisPresence)
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// Hub WebSocket 연결 관리 및 사용자별 푸시
type Hub struct {
	// 사용자별 연결 저장 (userID -> *Client)
	clients map[string]*Client
	mu      sync.RWMutex

	broadcast chan *Message

	// 등록/해제 채널
	register   chan *Client
	unregister chan *Client

	// Run 종료 시 닫힘
	done chan struct{}

	presence Presence
	logger   *zap.Logger
}

// Message WebSocket 메시지
type Message struct {
	UserID  string      `json:"-"`       // 수신자
	Type    string      `json:"type"`    // 메시지 타입
	Payload interface{} `json:"payload"` // 메시지 내용
}

// MatchFoundMessage 매칭 성사 알림
type MatchFoundMessage struct {
	SessionID string `json:"sessionId"`
	PartnerID string `json:"partnerId"`
}

const MessageTypeMatchFound = "match_found"

// NewHub Hub 생성 (presence는 nil 가능)
func NewHub(presence Presence, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		presence:   presence,
		logger:     logger,
	}
}

// Run ctx가 끝날 때까지 Hub 실행
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient 클라이언트 등록
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	// 기존 연결이 있으면 닫기
	if oldClient, exists := h.clients[client.userID]; exists {
		close(oldClient.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("userId", client.userID))
	}
	h.clients[client.userID] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.touch(client.userID)

	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))
}

// unregisterClient 클라이언트 해제
// 교체된 이전 연결의 해제 요청은 새 연결을 건드리지 않는다.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, exists := h.clients[client.userID]
	if !exists || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.userID)
	close(client.send)
	total := len(h.clients)
	h.mu.Unlock()

	if h.presence != nil {
		if err := h.presence.SetOffline(context.Background(), client.userID); err != nil {
			h.logger.Warn("Failed to clear presence", zap.String("userId", client.userID), zap.Error(err))
		}
	}

	h.logger.Info("WebSocket client unregistered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, client := range h.clients {
		close(client.send)
		delete(h.clients, userID)
	}
}

// broadcastMessage 이 인스턴스에 연결된 수신자에게 전달
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// 이 인스턴스에 연결되지 않은 사용자는 무시 (다른 인스턴스가 전달)
	if client, exists := h.clients[message.UserID]; exists {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send channel full",
				zap.String("userId", message.UserID))
		}
	}
}

// touch 접속 상태 TTL 갱신
func (h *Hub) touch(userID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.SetOnline(context.Background(), userID); err != nil {
		h.logger.Warn("Failed to refresh presence", zap.String("userId", userID), zap.Error(err))
	}
}

// IsConnected 이 인스턴스에 연결된 사용자인지
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// SendToUser 특정 사용자에게 메시지 전송
func (h *Hub) SendToUser(userID string, msgType string, payload interface{}) {
	h.enqueue(&Message{
		UserID:  userID,
		Type:    msgType,
		Payload: payload,
	})
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// HandleMatchEvent MatchEventBus 구독 핸들러
func (h *Hub) HandleMatchEvent(event distributed.MatchEvent) {
	if event.Type != MessageTypeMatchFound {
		return
	}
	h.SendToUser(event.UserID, MessageTypeMatchFound, MatchFoundMessage{
		SessionID: event.SessionID,
		PartnerID: event.PartnerID,
	})
}
