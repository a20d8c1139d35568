package dto

import (
	"time"

	"github.com/talkline-io/talkline-api/internal/models"
)

// RoomHistoryQuery filters the admin room-history endpoint.
type RoomHistoryQuery struct {
	RoomID string     `query:"room_id" validate:"required,max=64"`
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// RoomSummary is the per-room row returned by the admin room listing.
type RoomSummary struct {
	ID           string       `json:"id"`
	WebsiteID    string       `json:"website_id"`
	Status       string       `json:"status"`
	LastActivity time.Time    `json:"last_activity"`
	CreatedAt    time.Time    `json:"created_at"`
	VisitorInfo  *VisitorInfo `json:"visitor_info,omitempty"`
	MessageCount int          `json:"message_count"`
}

// NewRoomSummary converts a room model into the admin listing row.
func NewRoomSummary(room models.ChatRoom) RoomSummary {
	return RoomSummary{
		ID:           room.ID,
		WebsiteID:    room.WebsiteID,
		Status:       room.Status,
		LastActivity: room.LastActivity,
		CreatedAt:    room.CreatedAt,
		VisitorInfo:  VisitorInfoFromRoom(room),
		MessageCount: len(room.Messages),
	}
}

// NewRoomSummarySlice converts rooms into admin listing rows.
func NewRoomSummarySlice(rooms []models.ChatRoom) []RoomSummary {
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomSummary(room))
	}
	return out
}
