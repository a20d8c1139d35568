package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/dto"
	"github.com/talkline-io/talkline-api/internal/models"
	"github.com/talkline-io/talkline-api/internal/repository"

	"gorm.io/datatypes"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// chatRepoStub is an in-memory ChatRepository for coordinator tests.
type chatRepoStub struct {
	mu            sync.Mutex
	rooms         map[string]models.ChatRoom
	messages      []models.ChatMessage
	participants  []models.ChatParticipant
	nextMsgID     uint
	createRoomErr error
}

func newChatRepoStub() *chatRepoStub {
	return &chatRepoStub{rooms: make(map[string]models.ChatRoom)}
}

func (s *chatRepoStub) CreateRoom(_ context.Context, room *models.ChatRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createRoomErr != nil {
		return s.createRoomErr
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	s.rooms[room.ID] = *room
	return nil
}

func (s *chatRepoStub) GetRoom(_ context.Context, id string) (models.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return models.ChatRoom{}, repository.ErrNotFound
	}
	room.Messages = s.roomMessagesLocked(id)
	room.Participants = s.roomParticipantsLocked(id)
	return room, nil
}

func (s *chatRepoStub) ListRoomsByWebsite(_ context.Context, websiteID string) ([]models.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rooms []models.ChatRoom
	for id, room := range s.rooms {
		if room.WebsiteID != websiteID {
			continue
		}
		room.Messages = s.roomMessagesLocked(id)
		room.Participants = s.roomParticipantsLocked(id)
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

func (s *chatRepoStub) UpdateRoomStatus(_ context.Context, roomID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	room.Status = status
	s.rooms[roomID] = room
	return nil
}

func (s *chatRepoStub) TouchRoomActivity(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	room.LastActivity = at
	s.rooms[roomID] = room
	return nil
}

func (s *chatRepoStub) SetRoomVisitorInfo(_ context.Context, roomID, name, email string, meta datatypes.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	room.VisitorName = name
	room.VisitorEmail = email
	if meta != nil {
		room.VisitorMeta = meta
	}
	s.rooms[roomID] = room
	return nil
}

func (s *chatRepoStub) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)

	messages := s.messages[:0]
	for _, m := range s.messages {
		if m.RoomID != roomID {
			messages = append(messages, m)
		}
	}
	s.messages = messages

	participants := s.participants[:0]
	for _, p := range s.participants {
		if p.RoomID != roomID {
			participants = append(participants, p)
		}
	}
	s.participants = participants
	return nil
}

func (s *chatRepoStub) CreateMessage(_ context.Context, message *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	message.ID = s.nextMsgID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, *message)
	return nil
}

func (s *chatRepoStub) MarkMessageRead(_ context.Context, messageID uint, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].IsRead = true
			s.messages[i].ReadAt = &readAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *chatRepoStub) FindSystemMessage(_ context.Context, roomID, content string) (models.ChatMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.RoomID == roomID && m.IsSystem && m.Content == content {
			return m, true, nil
		}
	}
	return models.ChatMessage{}, false, nil
}

func (s *chatRepoStub) ListMessages(_ context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.roomMessagesLocked(roomID)
	if !before.IsZero() {
		filtered := out[:0]
		for _, m := range out {
			if m.CreatedAt.Before(before) {
				filtered = append(filtered, m)
			}
		}
		out = filtered
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *chatRepoStub) GetParticipant(_ context.Context, roomID, sessionID string) (models.ChatParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.RoomID == roomID && p.SessionID == sessionID {
			return p, nil
		}
	}
	return models.ChatParticipant{}, repository.ErrNotFound
}

func (s *chatRepoStub) CreateParticipant(_ context.Context, participant *models.ChatParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, *participant)
	return nil
}

func (s *chatRepoStub) SetParticipantTyping(_ context.Context, roomID, sessionID string, isAdmin, isTyping bool) (models.ChatParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.participants {
		if s.participants[i].RoomID == roomID && s.participants[i].SessionID == sessionID {
			s.participants[i].IsTyping = isTyping
			s.participants[i].LastActivity = now
			return s.participants[i], nil
		}
	}
	participant := models.ChatParticipant{
		RoomID:       roomID,
		SessionID:    sessionID,
		IsAdmin:      isAdmin,
		IsOnline:     true,
		IsTyping:     isTyping,
		LastSeen:     now,
		LastActivity: now,
	}
	s.participants = append(s.participants, participant)
	return participant, nil
}

func (s *chatRepoStub) SetParticipantOffline(_ context.Context, roomID, sessionID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		if s.participants[i].RoomID == roomID && s.participants[i].SessionID == sessionID {
			s.participants[i].IsOnline = false
			s.participants[i].IsTyping = false
			s.participants[i].LastSeen = lastSeen
		}
	}
	return nil
}

func (s *chatRepoStub) SetRoomParticipantsOffline(_ context.Context, roomID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		if s.participants[i].RoomID == roomID {
			s.participants[i].IsOnline = false
			s.participants[i].IsTyping = false
			s.participants[i].LastSeen = lastSeen
		}
	}
	return nil
}

func (s *chatRepoStub) RemoveParticipant(_ context.Context, roomID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	participants := s.participants[:0]
	for _, p := range s.participants {
		if !(p.RoomID == roomID && p.SessionID == sessionID) {
			participants = append(participants, p)
		}
	}
	s.participants = participants
	return nil
}

func (s *chatRepoStub) CountVisitorParticipants(_ context.Context, roomID, exceptSessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, p := range s.participants {
		if p.RoomID == roomID && !p.IsAdmin && p.SessionID != exceptSessionID {
			count++
		}
	}
	return count, nil
}

func (s *chatRepoStub) roomMessagesLocked(roomID string) []models.ChatMessage {
	var out []models.ChatMessage
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}

func (s *chatRepoStub) roomParticipantsLocked(roomID string) []models.ChatParticipant {
	var out []models.ChatParticipant
	for _, p := range s.participants {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	return out
}

// fakeSocket satisfies socketConn without a network.
type fakeSocket struct {
	mu     sync.Mutex
	inbox  chan []byte
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbox: make(chan []byte, 16)}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbox
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeSocket) WriteJSON(interface{}) error { return nil }

func (f *fakeSocket) WriteMessage(int, []byte) error { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestService(repo repository.ChatRepository) *chatService {
	svc := NewChatService(repo, NewMessageLimiter(0, 0, 0), NewNoopPublisher(), testValidator(), 0, testLogger())
	return svc.(*chatService)
}

func newTestClient(svc *chatService, session Session) (*client, *fakeSocket) {
	sock := newFakeSocket()
	return newClient(sock, session, svc, context.Background()), sock
}

// drainEvents empties the client's pending send queue.
func drainEvents(c *client) []dto.Event {
	var events []dto.Event
	for {
		select {
		case event := <-c.send:
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventNames(events []dto.Event) []string {
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.Event)
	}
	return names
}
