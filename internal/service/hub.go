package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/dto"
)

const clientSendBufferSize = 64

// socketConn is the slice of *websocket.Conn the hub needs. Tests substitute
// an in-memory implementation.
type socketConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// chatHub tracks which connections have joined which room broadcast group.
// Events broadcast to a room reach its current members in issue order.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
	log   zerolog.Logger
}

func newChatHub(logger zerolog.Logger) *chatHub {
	return &chatHub{
		rooms: make(map[string]map[*client]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}
}

func (h *chatHub) join(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	h.log.Debug().Str("room_id", roomID).Str("session_id", c.session.ID).Msg("client joined room group")
}

func (h *chatHub) leave(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(roomID, c)
}

func (h *chatHub) leaveLocked(roomID string, c *client) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// leaveAll detaches the client everywhere and returns the rooms it was in.
func (h *chatHub) leaveAll(c *client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rooms []string
	for roomID, members := range h.rooms {
		if _, ok := members[c]; ok {
			rooms = append(rooms, roomID)
			h.leaveLocked(roomID, c)
		}
	}
	return rooms
}

// drop removes the room group entirely and returns its former members.
func (h *chatHub) drop(roomID string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomID]
	delete(h.rooms, roomID)

	out := make([]*client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (h *chatHub) broadcast(roomID string, event dto.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomID] {
		c.enqueue(event)
	}
}

// client is one websocket connection with its accepted session context.
type client struct {
	conn    socketConn
	send    chan dto.Event
	session Session
	svc     *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

func newClient(conn socketConn, session Session, svc *chatService, baseCtx context.Context) *client {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &client{
		conn:    conn,
		send:    make(chan dto.Event, clientSendBufferSize),
		session: session,
		svc:     svc,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}
}

// enqueue hands an event to the writer without blocking the broadcaster.
func (c *client) enqueue(event dto.Event) {
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- event:
	default:
		c.svc.logger.Warn().
			Str("session_id", c.session.ID).
			Str("event", event.Event).
			Msg("dropping event for slow client")
	}
}

func (c *client) reader() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.svc.logger.Debug().Err(err).Str("session_id", c.session.ID).Msg("read loop ended")
			return
		}

		var envelope dto.EventEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.enqueue(dto.NewEvent(dto.EventError, dto.ErrorEvent{Message: "malformed event"}))
			continue
		}

		c.svc.dispatch(c, envelope)
	}
}

func (c *client) writer() {
	defer c.close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.svc.logger.Debug().Err(err).Str("session_id", c.session.ID).Msg("write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.svc.logger.Debug().Err(err).Str("session_id", c.session.ID).Msg("ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.svc.handleDisconnect(c)
		_ = c.conn.Close()
	})
}
