package contract_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/talkline-io/talkline-api/internal/dto"
	"github.com/talkline-io/talkline-api/internal/handler"
	"github.com/talkline-io/talkline-api/internal/models"
	"github.com/talkline-io/talkline-api/internal/service"
)

type openAPISpec struct {
	Paths      map[string]map[string]json.RawMessage `json:"paths"`
	Components struct {
		Schemas map[string]json.RawMessage `json:"schemas"`
	} `json:"components"`
}

func TestRealtimeSpecificationIncludesChatEndpoints(t *testing.T) {
	spec := loadSpec(t, "docs/api/events.json")

	requiredPaths := []string{
		"/api/v1/chat/ws",
		"/api/v1/chat/leave-signal",
		"/api/v1/admin/rooms",
		"/api/v1/admin/rooms/{id}/history",
		"/api/v1/admin/rooms/{id}",
		"/api/v1/health",
	}

	for _, path := range requiredPaths {
		if _, ok := spec.Paths[path]; !ok {
			t.Fatalf("expected realtime spec to contain path %s", path)
		}
	}

	for _, schema := range []string{"EventEnvelope", "ChatMessage", "RoomSummary", "VisitorInfo", "TypingStatus", "ParticipantStatus", "AdminStatus"} {
		if _, ok := spec.Components.Schemas[schema]; !ok {
			t.Fatalf("expected realtime spec to contain schema %s", schema)
		}
	}
}

type stubRoomService struct {
	rooms []dto.RoomSummary
}

func (s stubRoomService) ServeConnection(*websocket.Conn, service.Session, context.Context) {}

func (s stubRoomService) LeaveSignal(context.Context, string) error { return nil }

func (s stubRoomService) History(context.Context, dto.RoomHistoryQuery) ([]dto.MessageEvent, error) {
	return nil, nil
}

func (s stubRoomService) ListRooms(context.Context, string) ([]dto.RoomSummary, error) {
	return s.rooms, nil
}

func (s stubRoomService) DeleteRoom(context.Context, string) error { return nil }

func (s stubRoomService) AdminOnline(string) bool { return false }

func TestRoomListingContract(t *testing.T) {
	schema := compileSchema(t, "room_listing.schema.json")

	now := time.Now().UTC()
	rooms := []dto.RoomSummary{
		{
			ID:           "room-1",
			WebsiteID:    "site-1",
			Status:       models.RoomStatusActive,
			LastActivity: now,
			CreatedAt:    now.Add(-time.Hour),
			VisitorInfo:  &dto.VisitorInfo{Name: "Alice", PageURL: "https://example.com/pricing"},
			MessageCount: 4,
		},
		{
			ID:           "room-2",
			WebsiteID:    "site-1",
			Status:       models.RoomStatusEnded,
			LastActivity: now.Add(-2 * time.Hour),
			CreatedAt:    now.Add(-3 * time.Hour),
		},
	}

	roomHandler := handler.NewRoomHandler(stubRoomService{rooms: rooms}, validator.New(), zerolog.Nop())

	app := fiber.New()
	roomHandler.Register(app.Group("/api/v1/admin"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rooms?website_id=site-1", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}

func TestOutboundEventsMatchEnvelopeContract(t *testing.T) {
	schema := compileSchema(t, "chat_event.schema.json")

	now := time.Now().UTC()
	events := []dto.Event{
		dto.NewEvent(dto.EventJoined, dto.JoinedEvent{RoomID: "room-1"}),
		dto.NewEvent(dto.EventMessage, dto.MessageEvent{ID: 1, RoomID: "room-1", Content: "hi", IsVisitor: true, CreatedAt: now}),
		dto.NewEvent(dto.EventTyping, dto.TypingEvent{RoomID: "room-1", SessionID: "sess-1", IsTyping: true}),
		dto.NewEvent(dto.EventParticipantStatus, dto.ParticipantStatusEvent{RoomID: "room-1", SessionID: "sess-1", IsOnline: true, LastSeen: now}),
		dto.NewEvent(dto.EventAdminStatus, dto.AdminStatusEvent{IsAdminOnline: true, WebsiteID: "site-1"}),
		dto.NewEvent(dto.EventSessionEnd, dto.SessionEndEvent{RoomID: "room-1"}),
		dto.NewEvent(dto.EventVisitorLeft, dto.VisitorLeftEvent{RoomID: "room-1", Message: "Visitor left the chat"}),
		dto.NewEvent(dto.EventError, dto.ErrorEvent{Message: "Invalid room"}),
	}

	for _, event := range events {
		raw, err := json.Marshal(event)
		require.NoError(t, err)

		var payload interface{}
		require.NoError(t, json.Unmarshal(raw, &payload))
		require.NoError(t, schema.Validate(payload), "event %s", event.Event)
	}
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func loadSpec(t *testing.T, relative string) openAPISpec {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("failed to resolve caller")
	}
	base := filepath.Join(filepath.Dir(filename), "..", "..")
	fullPath := filepath.Join(base, relative)

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("failed to read %s: %v", fullPath, err)
	}
	var spec openAPISpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		t.Fatalf("failed to unmarshal %s: %v", fullPath, err)
	}
	return spec
}
