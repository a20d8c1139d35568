package dto

import (
	"encoding/json"
	"time"

	"github.com/talkline-io/talkline-api/internal/models"
)

// Inbound event names accepted on the websocket.
const (
	EventJoin               = "join"
	EventLeave              = "leave"
	EventMessage            = "message"
	EventTyping             = "typing"
	EventAdminSubscribe     = "admin-subscribe"
	EventSessionEnd         = "session-end"
	EventMessageRead        = "message-read"
	EventRoomDelete         = "room-delete"
	EventVisitorLeave       = "visitor-leave"
	EventDelete             = "delete"
	EventAdminStatusRequest = "admin-status-request"
)

// Outbound event names emitted to clients.
const (
	EventError             = "error"
	EventJoined            = "joined"
	EventSessionNew        = "session-new"
	EventParticipantStatus = "participant-status"
	EventAdminStatus       = "admin-status"
	EventRoomDeleted       = "room-deleted"
	EventVisitorInfo       = "visitor-info"
	EventVisitorLeft       = "visitor-left"
)

// EventEnvelope frames every inbound websocket payload.
type EventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event frames every outbound websocket payload.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// NewEvent wraps a payload in the outbound envelope.
func NewEvent(name string, data interface{}) Event {
	return Event{Event: name, Data: data}
}

// VisitorInfo carries the optional contact details a widget may attach to a
// join or message event.
type VisitorInfo struct {
	Name      string `json:"name,omitempty" validate:"omitempty,max=255"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	PageURL   string `json:"page_url,omitempty" validate:"omitempty,max=2048"`
	PageTitle string `json:"page_title,omitempty" validate:"omitempty,max=512"`
}

// JoinRequest opens or attaches to a room.
type JoinRequest struct {
	WebsiteID   string       `json:"website_id" validate:"required,max=64"`
	RoomID      string       `json:"room_id" validate:"omitempty,max=64"`
	VisitorInfo *VisitorInfo `json:"visitor_info,omitempty"`
}

// LeaveRequest detaches the sender from a room.
type LeaveRequest struct {
	RoomID string `json:"room_id" validate:"required,max=64"`
}

// MessageRequest relays a chat message into a room.
type MessageRequest struct {
	RoomID      string       `json:"room_id" validate:"required,max=64"`
	Content     string       `json:"content"`
	VisitorInfo *VisitorInfo `json:"visitor_info,omitempty"`
}

// TypingRequest toggles the sender's typing flag.
type TypingRequest struct {
	RoomID   string `json:"room_id" validate:"required,max=64"`
	IsTyping bool   `json:"is_typing"`
}

// AdminSubscribeRequest registers an admin connection for all rooms of a website.
type AdminSubscribeRequest struct {
	WebsiteID string `json:"website_id" validate:"required,max=64"`
}

// SessionEndRequest flags a room as ended without purging it.
type SessionEndRequest struct {
	RoomID string `json:"room_id" validate:"required,max=64"`
}

// MessageReadRequest marks a single message as read.
type MessageReadRequest struct {
	MessageID uint   `json:"message_id" validate:"required"`
	RoomID    string `json:"room_id" validate:"required,max=64"`
}

// RoomDeleteRequest purges a room and everything attached to it.
type RoomDeleteRequest struct {
	RoomID string `json:"room_id" validate:"required,max=64"`
}

// VisitorLeaveRequest reports a visitor leaving, over the socket or the
// out-of-band HTTP endpoint.
type VisitorLeaveRequest struct {
	RoomID string `json:"room_id" validate:"required,max=64"`
}

// AdminStatusRequest asks whether any admin is online for a website.
type AdminStatusRequest struct {
	WebsiteID string `json:"website_id" validate:"required,max=64"`
}

// MessageEvent is the serialized representation of a relayed chat message.
type MessageEvent struct {
	ID        uint       `json:"id"`
	RoomID    string     `json:"room_id"`
	Content   string     `json:"content"`
	IsVisitor bool       `json:"is_visitor"`
	IsSystem  bool       `json:"is_system,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// JoinedEvent acknowledges a join; clients unblock sending on receipt.
type JoinedEvent struct {
	RoomID string `json:"room_id"`
}

// ErrorEvent is a scoped error delivered to the offending connection only.
type ErrorEvent struct {
	Message string `json:"message"`
}

// SessionNewEvent announces a freshly created room to subscribed admins.
type SessionNewEvent struct {
	RoomID      string       `json:"room_id"`
	WebsiteID   string       `json:"website_id"`
	VisitorID   string       `json:"visitor_id"`
	IsActive    bool         `json:"is_active"`
	VisitorInfo *VisitorInfo `json:"visitor_info,omitempty"`
}

// SessionEndEvent tells room members the chat is over.
type SessionEndEvent struct {
	RoomID string `json:"room_id"`
}

// ParticipantStatusEvent carries one participant's presence and typing state.
type ParticipantStatusEvent struct {
	RoomID    string    `json:"room_id"`
	SessionID string    `json:"session_id"`
	IsOnline  bool      `json:"is_online"`
	IsTyping  bool      `json:"is_typing"`
	LastSeen  time.Time `json:"last_seen"`
	IsAdmin   bool      `json:"is_admin"`
}

// AdminStatusEvent reports the aggregate admin-online state for a website.
type AdminStatusEvent struct {
	IsAdminOnline bool   `json:"is_admin_online"`
	WebsiteID     string `json:"website_id"`
}

// TypingEvent relays a participant's typing change to the room.
type TypingEvent struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
	IsAdmin   bool   `json:"is_admin"`
}

// MessageReadEvent propagates a read receipt.
type MessageReadEvent struct {
	MessageID uint      `json:"message_id"`
	RoomID    string    `json:"room_id"`
	ReadAt    time.Time `json:"read_at"`
}

// RoomDeletedEvent tells room members the room was purged.
type RoomDeletedEvent struct {
	RoomID string `json:"room_id"`
}

// VisitorInfoEvent forwards visitor contact details to the room.
type VisitorInfoEvent struct {
	RoomID      string      `json:"room_id"`
	VisitorInfo VisitorInfo `json:"visitor_info"`
}

// VisitorLeftEvent tells admins the visitor is gone, carrying the system
// message that recorded it when one was created.
type VisitorLeftEvent struct {
	RoomID        string        `json:"room_id"`
	Message       string        `json:"message"`
	SystemMessage *MessageEvent `json:"system_message,omitempty"`
}

// NewMessageEvent converts a message model into its wire form.
func NewMessageEvent(message models.ChatMessage) MessageEvent {
	return MessageEvent{
		ID:        message.ID,
		RoomID:    message.RoomID,
		Content:   message.Content,
		IsVisitor: message.IsVisitor,
		IsSystem:  message.IsSystem,
		IsRead:    message.IsRead,
		ReadAt:    message.ReadAt,
		CreatedAt: message.CreatedAt,
	}
}

// NewMessageEventSlice converts messages into their wire form.
func NewMessageEventSlice(messages []models.ChatMessage) []MessageEvent {
	out := make([]MessageEvent, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageEvent(message))
	}
	return out
}

// NewParticipantStatusEvent converts a participant row into its wire form.
func NewParticipantStatusEvent(participant models.ChatParticipant) ParticipantStatusEvent {
	return ParticipantStatusEvent{
		RoomID:    participant.RoomID,
		SessionID: participant.SessionID,
		IsOnline:  participant.IsOnline,
		IsTyping:  participant.IsTyping,
		LastSeen:  participant.LastSeen,
		IsAdmin:   participant.IsAdmin,
	}
}

// VisitorInfoFromRoom rebuilds the contact payload stored on a room, or nil
// when the room carries none.
func VisitorInfoFromRoom(room models.ChatRoom) *VisitorInfo {
	info := VisitorInfo{
		Name:  room.VisitorName,
		Email: room.VisitorEmail,
	}
	if room.VisitorMeta != nil {
		if url, ok := room.VisitorMeta["page_url"].(string); ok {
			info.PageURL = url
		}
		if title, ok := room.VisitorMeta["page_title"].(string); ok {
			info.PageTitle = title
		}
	}
	if info == (VisitorInfo{}) {
		return nil
	}
	return &info
}
