package service

import (
	"context"
	"time"

	"github.com/talkline-io/talkline-api/internal/dto"
	"github.com/talkline-io/talkline-api/internal/models"
	"github.com/talkline-io/talkline-api/internal/observability"
)

// adminStatusTimeout bounds how long a status query may take before the
// widget gets the conservative answer.
const adminStatusTimeout = 5 * time.Second

// handleDisconnect runs exactly once per connection, from client.close.
func (s *chatService) handleDisconnect(c *client) {
	observability.ActiveConnections().Dec()

	if c.session.IsAdmin {
		emptied := s.subs.unsubscribeAll(c)
		rooms := s.hub.leaveAll(c)
		for _, roomID := range rooms {
			s.adminDeparture(context.Background(), roomID, c.session)
		}
		for _, websiteID := range emptied {
			s.broadcastAdminOffline(c.baseCtx, websiteID)
		}
		return
	}

	rooms := s.hub.leaveAll(c)
	for _, roomID := range rooms {
		s.visitorDeparture(context.Background(), roomID, c.session)
	}
	s.limiter.Forget(c.session.ID)
}

// visitorDeparture tears down a visitor's presence in one room and ends it.
// Uses a detached context on disconnect so teardown outlives the request.
func (s *chatService) visitorDeparture(ctx context.Context, roomID string, session Session) {
	participant, err := s.repo.GetParticipant(ctx, roomID, session.ID)
	if err == nil {
		lastSeen := s.now().UTC()
		if err := s.repo.SetParticipantOffline(ctx, roomID, session.ID, lastSeen); err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to mark participant offline")
		}

		participant.IsOnline = false
		participant.IsTyping = false
		participant.LastSeen = lastSeen
		s.hub.broadcast(roomID, dto.NewEvent(dto.EventParticipantStatus, dto.NewParticipantStatusEvent(participant)))

		if err := s.repo.RemoveParticipant(ctx, roomID, session.ID); err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to remove participant")
		}
	}

	s.limiter.Forget(session.ID)

	if err := s.endRoom(ctx, roomID, endReasonDisconnect); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to end room after visitor departure")
	}
}

// adminDeparture clears an admin's participant row in one room. Rooms an
// admin only watched through a subscription carry no row and are skipped.
// The room's status is left alone.
func (s *chatService) adminDeparture(ctx context.Context, roomID string, session Session) {
	participant, err := s.repo.GetParticipant(ctx, roomID, session.ID)
	if err != nil {
		return
	}

	lastSeen := s.now().UTC()
	if err := s.repo.SetParticipantOffline(ctx, roomID, session.ID, lastSeen); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to mark participant offline")
	}

	participant.IsOnline = false
	participant.IsTyping = false
	participant.LastSeen = lastSeen
	s.hub.broadcast(roomID, dto.NewEvent(dto.EventParticipantStatus, dto.NewParticipantStatusEvent(participant)))

	if err := s.repo.RemoveParticipant(ctx, roomID, session.ID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to remove participant")
	}
}

// broadcastAdminOffline tells every active room of a website that no admin is
// listening anymore. Fired when the last subscribed admin goes away.
func (s *chatService) broadcastAdminOffline(ctx context.Context, websiteID string) {
	rooms, err := s.repo.ListRoomsByWebsite(ctx, websiteID)
	if err != nil {
		s.logger.Warn().Err(err).Str("website_id", websiteID).Msg("failed to list rooms for offline broadcast")
		return
	}

	event := dto.NewEvent(dto.EventAdminStatus, dto.AdminStatusEvent{
		IsAdminOnline: false,
		WebsiteID:     websiteID,
	})
	for _, room := range rooms {
		if room.Status == models.RoomStatusActive {
			s.hub.broadcast(room.ID, event)
		}
	}
}

// handleAdminStatusRequest answers a widget's status probe. If the answer is
// not ready within the deadline the widget hears offline, never an error.
func (s *chatService) handleAdminStatusRequest(c *client, req dto.AdminStatusRequest) {
	result := make(chan bool, 1)
	go func() {
		result <- s.subs.online(req.WebsiteID)
	}()

	online := false
	select {
	case online = <-result:
	case <-time.After(adminStatusTimeout):
		s.logger.Warn().Str("website_id", req.WebsiteID).Msg("admin status query timed out")
	}

	c.enqueue(dto.NewEvent(dto.EventAdminStatus, dto.AdminStatusEvent{
		IsAdminOnline: online,
		WebsiteID:     req.WebsiteID,
	}))
}
