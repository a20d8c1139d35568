package models

import (
	"time"

	"gorm.io/datatypes"
)

// Room lifecycle states. Status only ever moves active -> ended.
const (
	RoomStatusActive = "active"
	RoomStatusEnded  = "ended"
)

// ChatRoom is one visitor-to-website chat thread.
type ChatRoom struct {
	ID           string            `gorm:"primaryKey;size:64" json:"id"`
	WebsiteID    string            `gorm:"size:64;index;not null" json:"website_id"`
	Status       string            `gorm:"size:16;not null;default:active" json:"status"`
	VisitorName  string            `gorm:"size:255" json:"visitor_name,omitempty"`
	VisitorEmail string            `gorm:"size:255" json:"visitor_email,omitempty"`
	VisitorMeta  datatypes.JSONMap `gorm:"type:json" json:"visitor_meta,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	Messages     []ChatMessage     `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
	Participants []ChatParticipant `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
}

// ChatMessage is immutable once created except for the read transition.
type ChatMessage struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	RoomID    string     `gorm:"size:64;index;not null" json:"room_id"`
	Content   string     `gorm:"type:text" json:"content"`
	IsVisitor bool       `gorm:"not null;default:false" json:"is_visitor"`
	IsSystem  bool       `gorm:"not null;default:false" json:"is_system"`
	IsRead    bool       `gorm:"not null;default:false" json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ChatParticipant tracks one session's presence within one room. A room holds
// at most one participant row per session, and at most one non-admin
// participant overall.
type ChatParticipant struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RoomID       string    `gorm:"size:64;index:idx_room_session,unique;not null" json:"room_id"`
	SessionID    string    `gorm:"size:128;index:idx_room_session,unique;not null" json:"session_id"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	IsOnline     bool      `gorm:"not null;default:false" json:"is_online"`
	IsTyping     bool      `gorm:"not null;default:false" json:"is_typing"`
	LastSeen     time.Time `json:"last_seen"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
