package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/talkline-io/talkline-api/internal/models"
)

// ErrNotFound is returned when a referenced row no longer exists.
var ErrNotFound = gorm.ErrRecordNotFound

// ChatRepository is the durable-store contract the coordinator depends on.
// Every operation is individually atomic; the coordinator never requires
// multi-operation transactions, only idempotent re-checks.
type ChatRepository interface {
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	GetRoom(ctx context.Context, id string) (models.ChatRoom, error)
	ListRoomsByWebsite(ctx context.Context, websiteID string) ([]models.ChatRoom, error)
	UpdateRoomStatus(ctx context.Context, roomID, status string) error
	TouchRoomActivity(ctx context.Context, roomID string, at time.Time) error
	SetRoomVisitorInfo(ctx context.Context, roomID, name, email string, meta datatypes.JSONMap) error
	DeleteRoom(ctx context.Context, roomID string) error

	CreateMessage(ctx context.Context, message *models.ChatMessage) error
	MarkMessageRead(ctx context.Context, messageID uint, readAt time.Time) error
	FindSystemMessage(ctx context.Context, roomID, content string) (models.ChatMessage, bool, error)
	ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error)

	GetParticipant(ctx context.Context, roomID, sessionID string) (models.ChatParticipant, error)
	CreateParticipant(ctx context.Context, participant *models.ChatParticipant) error
	SetParticipantTyping(ctx context.Context, roomID, sessionID string, isAdmin, isTyping bool) (models.ChatParticipant, error)
	SetParticipantOffline(ctx context.Context, roomID, sessionID string, lastSeen time.Time) error
	SetRoomParticipantsOffline(ctx context.Context, roomID string, lastSeen time.Time) error
	RemoveParticipant(ctx context.Context, roomID, sessionID string) error
	CountVisitorParticipants(ctx context.Context, roomID, exceptSessionID string) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *chatRepository) GetRoom(ctx context.Context, id string) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Participants").
		First(&room, "id = ?", id).Error
	if err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRepository) ListRoomsByWebsite(ctx context.Context, websiteID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Participants").
		Where("website_id = ?", websiteID).
		Order("created_at ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *chatRepository) UpdateRoomStatus(ctx context.Context, roomID, status string) error {
	return r.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		Update("status", status).Error
}

func (r *chatRepository) TouchRoomActivity(ctx context.Context, roomID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		Update("last_activity", at).Error
}

func (r *chatRepository) SetRoomVisitorInfo(ctx context.Context, roomID, name, email string, meta datatypes.JSONMap) error {
	updates := map[string]interface{}{
		"visitor_name":  name,
		"visitor_email": email,
	}
	if meta != nil {
		updates["visitor_meta"] = meta
	}
	return r.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		Updates(updates).Error
}

// DeleteRoom cascades to messages and participants. Explicit deletes keep the
// behaviour identical on databases without foreign-key enforcement.
func (r *chatRepository) DeleteRoom(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.ChatParticipant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", roomID).Delete(&models.ChatRoom{}).Error
	})
}

func (r *chatRepository) CreateMessage(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *chatRepository) MarkMessageRead(ctx context.Context, messageID uint, readAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{"is_read": true, "read_at": readAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *chatRepository) FindSystemMessage(ctx context.Context, roomID, content string) (models.ChatMessage, bool, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND is_system = ? AND content = ?", roomID, true, content).
		First(&message).Error
	if err == gorm.ErrRecordNotFound {
		return models.ChatMessage{}, false, nil
	}
	if err != nil {
		return models.ChatMessage{}, false, err
	}
	return message, true, nil
}

func (r *chatRepository) ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.ChatMessage
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *chatRepository) GetParticipant(ctx context.Context, roomID, sessionID string) (models.ChatParticipant, error) {
	var participant models.ChatParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND session_id = ?", roomID, sessionID).
		First(&participant).Error
	if err != nil {
		return models.ChatParticipant{}, err
	}
	return participant, nil
}

func (r *chatRepository) CreateParticipant(ctx context.Context, participant *models.ChatParticipant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

// SetParticipantTyping updates the typing flag and transparently re-creates
// the participant row when a disconnect race removed it.
func (r *chatRepository) SetParticipantTyping(ctx context.Context, roomID, sessionID string, isAdmin, isTyping bool) (models.ChatParticipant, error) {
	now := time.Now().UTC()

	var participant models.ChatParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND session_id = ?", roomID, sessionID).
		First(&participant).Error
	if err == gorm.ErrRecordNotFound {
		participant = models.ChatParticipant{
			RoomID:       roomID,
			SessionID:    sessionID,
			IsAdmin:      isAdmin,
			IsOnline:     true,
			IsTyping:     isTyping,
			LastSeen:     now,
			LastActivity: now,
		}
		if err := r.db.WithContext(ctx).Create(&participant).Error; err != nil {
			return models.ChatParticipant{}, err
		}
		return participant, nil
	}
	if err != nil {
		return models.ChatParticipant{}, err
	}

	participant.IsTyping = isTyping
	participant.LastActivity = now
	if err := r.db.WithContext(ctx).Model(&participant).
		Updates(map[string]interface{}{"is_typing": isTyping, "last_activity": now}).Error; err != nil {
		return models.ChatParticipant{}, err
	}
	return participant, nil
}

func (r *chatRepository) SetParticipantOffline(ctx context.Context, roomID, sessionID string, lastSeen time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("room_id = ? AND session_id = ?", roomID, sessionID).
		Updates(map[string]interface{}{"is_online": false, "is_typing": false, "last_seen": lastSeen}).Error
}

func (r *chatRepository) SetRoomParticipantsOffline(ctx context.Context, roomID string, lastSeen time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{"is_online": false, "is_typing": false, "last_seen": lastSeen}).Error
}

func (r *chatRepository) RemoveParticipant(ctx context.Context, roomID, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("room_id = ? AND session_id = ?", roomID, sessionID).
		Delete(&models.ChatParticipant{}).Error
}

func (r *chatRepository) CountVisitorParticipants(ctx context.Context, roomID, exceptSessionID string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("room_id = ? AND is_admin = ?", roomID, false)
	if exceptSessionID != "" {
		query = query.Where("session_id <> ?", exceptSessionID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
