package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/dto"
	"github.com/talkline-io/talkline-api/internal/middleware"
	"github.com/talkline-io/talkline-api/internal/service"
	"github.com/talkline-io/talkline-api/internal/utils"
)

// RoomHandler serves the dashboard's REST view of rooms.
type RoomHandler struct {
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(svc service.ChatService, validator *validator.Validate, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		service:   svc,
		validator: validator,
		logger:    logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds room routes under the provided (authenticated) router group.
func (h *RoomHandler) Register(router fiber.Router) {
	router.Get("/rooms", h.list)
	router.Get("/rooms/:id/history", h.history)
	router.Delete("/rooms/:id", h.remove)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	websiteID := strings.TrimSpace(c.Query("website_id"))
	if websiteID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "website_id required")
	}

	rooms, err := h.service.ListRooms(h.requestContext(c), websiteID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("website_id", websiteID).Msg("room listing failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list rooms")
	}

	return utils.SendSuccess(c, "rooms", rooms)
}

func (h *RoomHandler) history(c *fiber.Ctx) error {
	roomID := strings.TrimSpace(c.Params("id"))

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit := 0
	if limitRaw := c.Query("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	query := dto.RoomHistoryQuery{
		RoomID: roomID,
		Before: beforePtr,
		Limit:  limit,
	}

	messages, err := h.service.History(h.requestContext(c), query)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("history lookup failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load history")
	}

	return utils.SendSuccess(c, "room history", messages)
}

func (h *RoomHandler) remove(c *fiber.Ctx) error {
	roomID := strings.TrimSpace(c.Params("id"))
	if roomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "room id required")
	}

	err := h.service.DeleteRoom(h.requestContext(c), roomID)
	if errors.Is(err, service.ErrInvalidRoom) {
		return utils.SendError(c, fiber.StatusNotFound, "room not found")
	}
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("room deletion failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to delete room")
	}

	return utils.SendSuccess(c, "room deleted", nil)
}

func (h *RoomHandler) requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}
