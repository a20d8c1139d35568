package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/dto"
	"github.com/talkline-io/talkline-api/internal/middleware"
	"github.com/talkline-io/talkline-api/internal/service"
	"github.com/talkline-io/talkline-api/internal/utils"
)

// ChatHandler wires the websocket upgrade and the out-of-band leave signal.
type ChatHandler struct {
	service       service.ChatService
	authenticator *service.Authenticator
	logger        zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(svc service.ChatService, authenticator *service.Authenticator, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:       svc,
		authenticator: authenticator,
		logger:        logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", h.gate)
	router.Get("/ws", websocket.New(h.handleConnection))
	router.Post("/leave-signal", h.leaveSignal)
}

// gate authenticates the handshake before the upgrade so rejected clients get
// a plain HTTP status instead of a half-open socket.
func (h *ChatHandler) gate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))

	handshake := service.Handshake{
		WebsiteID: c.Query("website_id"),
		Origin:    c.Get(fiber.HeaderOrigin),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		ClientIP:  c.IP(),
		IsAdmin:   c.Query("is_admin") == "true",
		SessionID: strings.TrimSpace(c.Query("session_id")),
		Reconnect: c.Query("reconnect") == "true",
	}

	session, err := h.authenticator.Authenticate(ctx, handshake)
	if err != nil {
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	}

	c.Locals("chat_session", session)
	c.Locals("request_ctx", ctx)
	return c.Next()
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	session, ok := conn.Locals("chat_session").(service.Session)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	h.logger.Info().
		Str("session_id", session.ID).
		Str("website_id", session.WebsiteID).
		Bool("is_admin", session.IsAdmin).
		Msg("chat websocket connected")

	h.service.ServeConnection(conn, session, baseCtx)

	h.logger.Info().
		Str("session_id", session.ID).
		Str("website_id", session.WebsiteID).
		Msg("chat websocket disconnected")
}

// leaveSignal accepts the page-unload beacon. The beacon sender never reads
// the response, so this endpoint acknowledges unconditionally and failures
// only reach the log.
func (h *ChatHandler) leaveSignal(c *fiber.Ctx) error {
	var payload dto.VisitorLeaveRequest
	if err := c.BodyParser(&payload); err != nil || strings.TrimSpace(payload.RoomID) == "" {
		return utils.SendSuccess(c, "leave signal received", nil)
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := h.service.LeaveSignal(ctx, payload.RoomID); err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("room_id", payload.RoomID).Msg("leave signal processing failed")
	}

	return utils.SendSuccess(c, "leave signal received", nil)
}
