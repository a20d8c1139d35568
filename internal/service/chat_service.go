package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/talkline-io/talkline-api/internal/dto"
	"github.com/talkline-io/talkline-api/internal/models"
	"github.com/talkline-io/talkline-api/internal/observability"
	"github.com/talkline-io/talkline-api/internal/repository"
)

const visitorLeftText = "Visitor left the chat"

// Room termination reasons used for metrics labels.
const (
	endReasonAdmin      = "admin"
	endReasonDeleted    = "deleted"
	endReasonDisconnect = "disconnect"
	endReasonSignal     = "leave_signal"
)

var (
	// ErrInvalidRoom rejects references to rooms that do not exist, belong
	// to another website, or have already ended.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrMessageNotFound rejects read receipts for purged messages.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotAuthorised rejects admin-only events from visitor connections.
	ErrNotAuthorised = errors.New("not authorised")
)

// ChatService coordinates connections, rooms and the event relay.
type ChatService interface {
	ServeConnection(conn *websocket.Conn, session Session, baseCtx context.Context)
	LeaveSignal(ctx context.Context, roomID string) error
	History(ctx context.Context, query dto.RoomHistoryQuery) ([]dto.MessageEvent, error)
	ListRooms(ctx context.Context, websiteID string) ([]dto.RoomSummary, error)
	DeleteRoom(ctx context.Context, roomID string) error
	AdminOnline(websiteID string) bool
}

type chatService struct {
	repo             repository.ChatRepository
	limiter          *MessageLimiter
	publisher        EventPublisher
	validate         *validator.Validate
	logger           zerolog.Logger
	tracer           trace.Tracer
	scrubber         *bluemonday.Policy
	hub              *chatHub
	subs             *subscriptionRegistry
	maxMessageLength int
	now              func() time.Time
}

// NewChatService wires the session lifecycle coordinator.
func NewChatService(repo repository.ChatRepository, limiter *MessageLimiter, publisher EventPublisher, validate *validator.Validate, maxMessageLength int, logger zerolog.Logger) ChatService {
	if limiter == nil {
		limiter = NewMessageLimiter(DefaultMessageLimit, DefaultMessageWindow, DefaultMessageCooldown)
	}
	if publisher == nil {
		publisher = NewNoopPublisher()
	}
	if maxMessageLength <= 0 {
		maxMessageLength = MaxMessageLength
	}

	return &chatService{
		repo:             repo,
		limiter:          limiter,
		publisher:        publisher,
		validate:         validate,
		logger:           logger.With().Str("component", "chat_service").Logger(),
		tracer:           otel.Tracer("github.com/talkline-io/talkline-api/internal/service"),
		scrubber:         bluemonday.StrictPolicy(),
		hub:              newChatHub(logger),
		subs:             newSubscriptionRegistry(),
		maxMessageLength: maxMessageLength,
		now:              time.Now,
	}
}

func (s *chatService) ServeConnection(conn *websocket.Conn, session Session, baseCtx context.Context) {
	c := newClient(conn, session, s, baseCtx)

	observability.ChatConnections().Inc()
	observability.ActiveConnections().Inc()

	go c.writer()
	c.reader()
}

func (s *chatService) AdminOnline(websiteID string) bool {
	return s.subs.online(websiteID)
}

// dispatch routes one inbound envelope. Handlers run synchronously on the
// connection's reader so a connection's own events stay ordered.
func (s *chatService) dispatch(c *client, envelope dto.EventEnvelope) {
	var err error

	switch envelope.Event {
	case dto.EventJoin:
		var payload dto.JoinRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleJoin(c, payload)
		}
	case dto.EventLeave:
		var payload dto.LeaveRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleLeave(c, payload)
		}
	case dto.EventMessage:
		var payload dto.MessageRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleMessage(c, payload)
		}
	case dto.EventTyping:
		var payload dto.TypingRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleTyping(c, payload)
		}
	case dto.EventAdminSubscribe:
		var payload dto.AdminSubscribeRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleAdminSubscribe(c, payload)
		}
	case dto.EventSessionEnd:
		var payload dto.SessionEndRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleSessionEnd(c, payload)
		}
	case dto.EventMessageRead:
		var payload dto.MessageReadRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleMessageRead(c, payload)
		}
	case dto.EventRoomDelete, dto.EventDelete:
		var payload dto.RoomDeleteRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.handleRoomDelete(c, payload)
		}
	case dto.EventVisitorLeave:
		var payload dto.VisitorLeaveRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			err = s.visitorLeave(c.baseCtx, payload.RoomID, endReasonSignal)
		}
	case dto.EventAdminStatusRequest:
		var payload dto.AdminStatusRequest
		if err = s.decode(envelope.Data, &payload); err == nil {
			s.handleAdminStatusRequest(c, payload)
		}
	default:
		err = errors.New("unknown event")
	}

	if err != nil {
		s.sendError(c, envelope.Event, err)
	}
}

func (s *chatService) decode(data json.RawMessage, target interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	return s.validate.Struct(target)
}

// sendError surfaces a scoped error event to the offending connection only.
// The connection stays open for every category.
func (s *chatService) sendError(c *client, event string, err error) {
	message := "Internal error"
	switch {
	case errors.Is(err, ErrRateLimited):
		message = "Rate limit exceeded. Please slow down."
	case errors.Is(err, ErrInvalidRoom):
		message = "Invalid room"
	case errors.Is(err, ErrEmptyMessage):
		message = "Message cannot be empty"
	case errors.Is(err, ErrMessageTooLong):
		message = "Message too long"
	case errors.Is(err, ErrMessageNotFound):
		message = "Message not found"
	case errors.Is(err, ErrNotAuthorised):
		message = "Not authorised"
	case isPayloadError(err):
		message = "Invalid payload"
	default:
		s.logger.Error().Err(err).Str("event", event).Str("session_id", c.session.ID).Msg("event handling failed")
	}

	c.enqueue(dto.NewEvent(dto.EventError, dto.ErrorEvent{Message: message}))
}

func isPayloadError(err error) bool {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return true
	}
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	return errors.As(err, &syntaxError) || errors.As(err, &typeError)
}

func (s *chatService) handleJoin(c *client, req dto.JoinRequest) error {
	ctx := c.baseCtx
	roomID := strings.TrimSpace(req.RoomID)

	var room models.ChatRoom
	created := false

	if roomID == "" {
		if c.session.IsAdmin {
			return ErrInvalidRoom
		}

		room = models.ChatRoom{
			ID:           uuid.NewString(),
			WebsiteID:    c.session.WebsiteID,
			Status:       models.RoomStatusActive,
			LastActivity: s.now().UTC(),
		}

		if err := s.repo.CreateRoom(ctx, &room); err != nil {
			return err
		}
		created = true

		if req.VisitorInfo != nil {
			// Forwarded immediately; persistence happens on first message.
			info := ScrubVisitorInfo(s.scrubber, *req.VisitorInfo)
			s.notifyAdmins(c.session.WebsiteID, dto.NewEvent(dto.EventVisitorInfo, dto.VisitorInfoEvent{
				RoomID:      room.ID,
				VisitorInfo: info,
			}))
		}
	} else {
		var err error
		room, err = s.repo.GetRoom(ctx, roomID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidRoom
		}
		if err != nil {
			return err
		}
		if room.WebsiteID != c.session.WebsiteID || room.Status != models.RoomStatusActive {
			return ErrInvalidRoom
		}
		if !c.session.IsAdmin {
			// A room holds exactly one non-admin participant.
			others, err := s.repo.CountVisitorParticipants(ctx, room.ID, c.session.ID)
			if err != nil {
				return err
			}
			if others > 0 {
				return ErrInvalidRoom
			}
		}
	}

	participant, err := s.repo.GetParticipant(ctx, room.ID, c.session.ID)
	if errors.Is(err, repository.ErrNotFound) {
		now := s.now().UTC()
		participant = models.ChatParticipant{
			RoomID:       room.ID,
			SessionID:    c.session.ID,
			IsAdmin:      c.session.IsAdmin,
			IsOnline:     true,
			LastSeen:     now,
			LastActivity: now,
		}
		if err := s.repo.CreateParticipant(ctx, &participant); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	s.hub.join(room.ID, c)
	if created {
		for _, admin := range s.subs.snapshot(c.session.WebsiteID) {
			s.hub.join(room.ID, admin)
		}
	}

	status := dto.NewParticipantStatusEvent(participant)
	c.enqueue(dto.NewEvent(dto.EventParticipantStatus, status))
	s.hub.broadcast(room.ID, dto.NewEvent(dto.EventParticipantStatus, status))

	if !c.session.IsAdmin {
		c.enqueue(dto.NewEvent(dto.EventAdminStatus, dto.AdminStatusEvent{
			IsAdminOnline: s.subs.online(c.session.WebsiteID),
			WebsiteID:     c.session.WebsiteID,
		}))
	}

	if created {
		s.notifyAdmins(c.session.WebsiteID, dto.NewEvent(dto.EventSessionNew, dto.SessionNewEvent{
			RoomID:      room.ID,
			WebsiteID:   room.WebsiteID,
			VisitorID:   c.session.ID,
			IsActive:    true,
			VisitorInfo: scrubbedInfoOrNil(s.scrubber, req.VisitorInfo),
		}))
	}

	// The joined ack is the signal clients use to unblock sending.
	c.enqueue(dto.NewEvent(dto.EventJoined, dto.JoinedEvent{RoomID: room.ID}))
	return nil
}

func scrubbedInfoOrNil(policy *bluemonday.Policy, info *dto.VisitorInfo) *dto.VisitorInfo {
	if info == nil {
		return nil
	}
	scrubbed := ScrubVisitorInfo(policy, *info)
	return &scrubbed
}

func (s *chatService) handleLeave(c *client, req dto.LeaveRequest) error {
	s.hub.leave(req.RoomID, c)
	if !c.session.IsAdmin {
		s.visitorDeparture(c.baseCtx, req.RoomID, c.session)
	}
	return nil
}

func (s *chatService) handleMessage(c *client, req dto.MessageRequest) error {
	ctx := c.baseCtx

	if err := s.limiter.Allow(c.session.ID, c.session.IsAdmin); err != nil {
		observability.ChatRejections().WithLabelValues("rate_limited").Inc()
		return err
	}

	content, err := ValidateMessageContent(req.Content, s.maxMessageLength)
	if err != nil {
		return err
	}

	room, err := s.repo.GetRoom(ctx, req.RoomID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidRoom
	}
	if err != nil {
		return err
	}
	if room.WebsiteID != c.session.WebsiteID || room.Status != models.RoomStatusActive {
		return ErrInvalidRoom
	}

	if req.VisitorInfo != nil && !c.session.IsAdmin {
		info := ScrubVisitorInfo(s.scrubber, *req.VisitorInfo)
		meta := datatypes.JSONMap{"page_url": info.PageURL, "page_title": info.PageTitle}
		if err := s.repo.SetRoomVisitorInfo(ctx, room.ID, info.Name, info.Email, meta); err != nil {
			return err
		}
		s.hub.broadcast(room.ID, dto.NewEvent(dto.EventVisitorInfo, dto.VisitorInfoEvent{
			RoomID:      room.ID,
			VisitorInfo: info,
		}))
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.relay", trace.WithAttributes(
		attribute.String("chat.room_id", room.ID),
		attribute.String("chat.session_id", c.session.ID),
		attribute.Bool("chat.is_admin", c.session.IsAdmin),
	))
	defer span.End()

	message := models.ChatMessage{
		RoomID:    room.ID,
		Content:   content,
		IsVisitor: !c.session.IsAdmin,
	}
	if err := s.repo.CreateMessage(spanCtx, &message); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.repo.TouchRoomActivity(spanCtx, room.ID, s.now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to touch room activity")
	}

	event := dto.NewEvent(dto.EventMessage, dto.NewMessageEvent(message))
	s.hub.broadcast(room.ID, event)
	s.publisher.Publish(spanCtx, room.ID, event)

	direction := "visitor"
	if c.session.IsAdmin {
		direction = "admin"
	}
	observability.ChatMessages().WithLabelValues(direction).Inc()

	return nil
}

func (s *chatService) handleTyping(c *client, req dto.TypingRequest) error {
	participant, err := s.repo.SetParticipantTyping(c.baseCtx, req.RoomID, c.session.ID, c.session.IsAdmin, req.IsTyping)
	if err != nil {
		return err
	}

	s.hub.broadcast(req.RoomID, dto.NewEvent(dto.EventTyping, dto.TypingEvent{
		RoomID:    req.RoomID,
		SessionID: c.session.ID,
		IsTyping:  req.IsTyping,
		IsAdmin:   c.session.IsAdmin,
	}))
	s.hub.broadcast(req.RoomID, dto.NewEvent(dto.EventParticipantStatus, dto.NewParticipantStatusEvent(participant)))
	return nil
}

// handleMessageRead trusts the caller: receipt events only reach participants
// already in the room's broadcast group.
func (s *chatService) handleMessageRead(c *client, req dto.MessageReadRequest) error {
	readAt := s.now().UTC()
	err := s.repo.MarkMessageRead(c.baseCtx, req.MessageID, readAt)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}

	s.hub.broadcast(req.RoomID, dto.NewEvent(dto.EventMessageRead, dto.MessageReadEvent{
		MessageID: req.MessageID,
		RoomID:    req.RoomID,
		ReadAt:    readAt,
	}))
	return nil
}

func (s *chatService) handleSessionEnd(c *client, req dto.SessionEndRequest) error {
	if !c.session.IsAdmin {
		return ErrNotAuthorised
	}
	return s.endRoom(c.baseCtx, req.RoomID, endReasonAdmin)
}

// endRoom is the single idempotent termination all four paths converge on.
// The ended-status check makes re-invocation a no-op.
func (s *chatService) endRoom(ctx context.Context, roomID, reason string) error {
	room, err := s.repo.GetRoom(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidRoom
	}
	if err != nil {
		return err
	}
	if room.Status == models.RoomStatusEnded {
		return nil
	}

	if err := s.repo.UpdateRoomStatus(ctx, roomID, models.RoomStatusEnded); err != nil {
		return err
	}

	s.hub.broadcast(roomID, dto.NewEvent(dto.EventSessionEnd, dto.SessionEndEvent{RoomID: roomID}))
	observability.RoomsEnded().WithLabelValues(reason).Inc()
	return nil
}

func (s *chatService) handleRoomDelete(c *client, req dto.RoomDeleteRequest) error {
	if !c.session.IsAdmin {
		return ErrNotAuthorised
	}
	return s.deleteRoom(c.baseCtx, req.RoomID)
}

// deleteRoom purges storage and force-disconnects the room's visitors.
// Subscribed admins are only detached; their connection spans other rooms.
func (s *chatService) deleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.repo.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidRoom
		}
		return err
	}

	if err := s.repo.DeleteRoom(ctx, roomID); err != nil {
		return err
	}

	s.hub.broadcast(roomID, dto.NewEvent(dto.EventRoomDeleted, dto.RoomDeletedEvent{RoomID: roomID}))
	observability.RoomsEnded().WithLabelValues(endReasonDeleted).Inc()

	for _, member := range s.hub.drop(roomID) {
		if !member.session.IsAdmin {
			member.close()
		}
	}
	return nil
}

// visitorLeave handles the out-of-band page-unload path. Safe to invoke more
// than once: the ended-status check and the existing-message check are the
// two idempotency guards.
func (s *chatService) visitorLeave(ctx context.Context, roomID, reason string) error {
	room, err := s.repo.GetRoom(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidRoom
	}
	if err != nil {
		return err
	}
	if room.Status == models.RoomStatusEnded {
		return nil
	}

	systemMessage, found, err := s.repo.FindSystemMessage(ctx, room.ID, visitorLeftText)
	if err != nil {
		return err
	}
	if !found {
		systemMessage = models.ChatMessage{
			RoomID:    room.ID,
			Content:   visitorLeftText,
			IsVisitor: true,
			IsSystem:  true,
		}
		if err := s.repo.CreateMessage(ctx, &systemMessage); err != nil {
			return err
		}
	}

	if err := s.repo.UpdateRoomStatus(ctx, room.ID, models.RoomStatusEnded); err != nil {
		return err
	}
	if err := s.repo.SetRoomParticipantsOffline(ctx, room.ID, s.now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to mark participants offline")
	}

	messageEvent := dto.NewMessageEvent(systemMessage)
	s.notifyAdmins(room.WebsiteID, dto.NewEvent(dto.EventVisitorLeft, dto.VisitorLeftEvent{
		RoomID:        room.ID,
		Message:       visitorLeftText,
		SystemMessage: &messageEvent,
	}))
	s.hub.broadcast(room.ID, dto.NewEvent(dto.EventSessionEnd, dto.SessionEndEvent{RoomID: room.ID}))
	observability.RoomsEnded().WithLabelValues(reason).Inc()
	return nil
}

// LeaveSignal serves the fire-and-forget HTTP boundary; the handler swallows
// whatever this returns.
func (s *chatService) LeaveSignal(ctx context.Context, roomID string) error {
	return s.visitorLeave(ctx, roomID, endReasonSignal)
}

func (s *chatService) handleAdminSubscribe(c *client, req dto.AdminSubscribeRequest) error {
	if !c.session.IsAdmin {
		return ErrNotAuthorised
	}

	ctx := c.baseCtx
	s.subs.subscribe(req.WebsiteID, c)

	rooms, err := s.repo.ListRoomsByWebsite(ctx, req.WebsiteID)
	if err != nil {
		return err
	}

	// Deterministic replay: room creation order, then fixed event order per
	// room, so dashboard state machines can apply events idempotently.
	now := s.now().UTC()
	for _, room := range rooms {
		s.hub.join(room.ID, c)

		primary := primaryVisitor(room.Participants)
		visitorID := ""
		if primary != nil {
			visitorID = primary.SessionID
		}

		c.enqueue(dto.NewEvent(dto.EventSessionNew, dto.SessionNewEvent{
			RoomID:      room.ID,
			WebsiteID:   room.WebsiteID,
			VisitorID:   visitorID,
			IsActive:    room.Status == models.RoomStatusActive,
			VisitorInfo: dto.VisitorInfoFromRoom(room),
		}))
		if primary != nil {
			c.enqueue(dto.NewEvent(dto.EventParticipantStatus, dto.NewParticipantStatusEvent(*primary)))
		}
		c.enqueue(dto.NewEvent(dto.EventParticipantStatus, dto.ParticipantStatusEvent{
			RoomID:    room.ID,
			SessionID: c.session.ID,
			IsOnline:  true,
			LastSeen:  now,
			IsAdmin:   true,
		}))
		for _, message := range room.Messages {
			c.enqueue(dto.NewEvent(dto.EventMessage, dto.NewMessageEvent(message)))
		}
	}

	// Visitors without a participant record yet still learn an admin is on.
	for _, room := range rooms {
		if room.Status == models.RoomStatusActive {
			s.hub.broadcast(room.ID, dto.NewEvent(dto.EventAdminStatus, dto.AdminStatusEvent{
				IsAdminOnline: true,
				WebsiteID:     req.WebsiteID,
			}))
		}
	}
	return nil
}

// primaryVisitor returns the room's single non-admin participant, if any.
func primaryVisitor(participants []models.ChatParticipant) *models.ChatParticipant {
	for i := range participants {
		if !participants[i].IsAdmin {
			return &participants[i]
		}
	}
	return nil
}

func (s *chatService) notifyAdmins(websiteID string, event dto.Event) {
	for _, admin := range s.subs.snapshot(websiteID) {
		admin.enqueue(event)
	}
}

// History serves the admin REST history endpoint.
func (s *chatService) History(ctx context.Context, query dto.RoomHistoryQuery) ([]dto.MessageEvent, error) {
	if err := s.validate.Struct(query); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.repo.ListMessages(ctx, query.RoomID, before, query.Limit)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageEventSlice(messages), nil
}

// ListRooms serves the admin REST room listing, newest activity first.
func (s *chatService) ListRooms(ctx context.Context, websiteID string) ([]dto.RoomSummary, error) {
	rooms, err := s.repo.ListRoomsByWebsite(ctx, websiteID)
	if err != nil {
		return nil, err
	}

	summaries := dto.NewRoomSummarySlice(rooms)
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivity.After(summaries[j].LastActivity)
	})
	return summaries, nil
}

// DeleteRoom serves the admin REST deletion endpoint with the same cascade
// and force-disconnect semantics as the socket event.
func (s *chatService) DeleteRoom(ctx context.Context, roomID string) error {
	return s.deleteRoom(ctx, roomID)
}
