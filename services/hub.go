package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub owns the websocket clients. Each registered client gets its own
// Coordinator; incoming messages are dispatched to it and its notifications
// are pushed back over the socket.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	backend     *Backend
	matchmaker  Matchmaker
	questions   *QuestionService
	scoring     *ScoringService
	feed        Feed
	newSessions func(userID string) SessionStore
}

type Client struct {
	hub         *Hub
	id          string
	socket      *websocket.Conn
	send        chan []byte
	userID      string
	username    string
	coordinator *Coordinator
}

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewHub(backend *Backend, matchmaker Matchmaker, questions *QuestionService, scoring *ScoringService, feed Feed, newSessions func(userID string) SessionStore) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		backend:     backend,
		matchmaker:  matchmaker,
		questions:   questions,
		scoring:     scoring,
		feed:        feed,
		newSessions: newSessions,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client registered: %s (user %s: %s) - Total clients: %d", client.id, client.userID, client.username, len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Client unregistered: %s (user %s: %s) - Total clients: %d", client.id, client.userID, client.username, len(h.clients))
			}
			h.mutex.Unlock()
			client.coordinator.Close()
		}
	}
}

// RegisterClient creates the client's coordinator and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID, username string) *Client {
	client := &Client{
		hub:      h,
		id:       uuid.NewString(),
		socket:   conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
	}

	client.coordinator = NewCoordinator(
		userID, username,
		h.backend, h.matchmaker, h.questions, h.scoring,
		h.newSessions(userID), h.feed,
		client.push,
	)

	h.register <- client

	go client.writePump()
	go client.readPump()

	client.coordinator.Start(context.Background())
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// push delivers a coordinator notification to the socket. A client whose
// send buffer is full is dropped rather than allowed to stall the game.
func (c *Client) push(event string, payload interface{}) {
	data, err := json.Marshal(map[string]interface{}{
		"type":    event,
		"payload": payload,
	})
	if err != nil {
		log.Printf("Error marshaling %s notification: %v", event, err)
		return
	}

	defer func() {
		// send may be closed by the unregister path.
		_ = recover()
	}()

	select {
	case c.send <- data:
	default:
		log.Printf("Client %s (user %s) send buffer full, dropping notification", c.id, c.userID)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}

		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}

	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	ctx := context.Background()

	switch msg.Type {
	case "ping":
		c.push("pong", "pong")

	case "find_match":
		var req struct {
			Category string `json:"category"`
		}
		c.decode(msg.Payload, &req)
		if err := c.coordinator.FindMatch(ctx, req.Category); err != nil {
			c.pushError(err)
		}

	case "cancel_match":
		if err := c.coordinator.CancelMatch(ctx); err != nil {
			c.pushError(err)
		}

	case "create_room":
		var req CreateRoomRequest
		c.decode(msg.Payload, &req)
		if _, err := c.coordinator.CreateRoom(ctx, req); err != nil {
			c.pushError(err)
		}

	case "join_room_by_code":
		var req struct {
			Code string `json:"code"`
		}
		c.decode(msg.Payload, &req)
		if _, err := c.coordinator.JoinRoomByCode(ctx, req.Code); err != nil {
			c.pushError(err)
		}

	case "join_public_room":
		var req struct {
			RoomID string `json:"room_id"`
		}
		c.decode(msg.Payload, &req)
		if _, err := c.coordinator.JoinPublicRoom(ctx, req.RoomID); err != nil {
			c.pushError(err)
		}

	case "start_game":
		if err := c.coordinator.StartGame(ctx); err != nil {
			c.pushError(err)
		}

	case "leave_room":
		if err := c.coordinator.LeaveRoom(ctx); err != nil {
			c.pushError(err)
		}

	case "submit_answer":
		var req struct {
			Answer string `json:"answer"`
		}
		c.decode(msg.Payload, &req)
		if _, err := c.coordinator.SubmitAnswer(ctx, req.Answer); err != nil {
			c.pushError(err)
		}

	case "list_rooms":
		rooms := c.coordinator.ListPublicRooms(ctx)
		c.push("public_rooms", map[string]interface{}{"rooms": rooms})

	case "request_state":
		c.push("state_sync", c.coordinator.Snapshot())

	default:
		log.Printf("Unknown message type: %s from user %s (%s)", msg.Type, c.userID, c.username)
	}
}

func (c *Client) decode(payload json.RawMessage, v interface{}) {
	if payload == nil {
		return
	}
	if err := json.Unmarshal(payload, v); err != nil {
		log.Printf("Bad %T payload from user %s: %v", v, c.userID, err)
	}
}

func (c *Client) pushError(err error) {
	c.push("error", map[string]interface{}{"message": err.Error()})
}
