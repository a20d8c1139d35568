package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/dto"
)

// EventPublisher mirrors room events onto external channels, best-effort.
// Publish-only: the coordinator never consumes these channels, so live
// connection state stays owned by this one process.
type EventPublisher interface {
	Publish(ctx context.Context, roomID string, event dto.Event)
}

type noopPublisher struct{}

// NewNoopPublisher returns a publisher that discards everything.
func NewNoopPublisher() EventPublisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, string, dto.Event) {}

type firehoseEvent struct {
	Source string    `json:"source"`
	RoomID string    `json:"room_id"`
	Event  dto.Event `json:"event"`
	SentAt time.Time `json:"sent_at"`
}

type firehosePublisher struct {
	redis   *redis.Client
	channel string
	nats    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewEventPublisher fans room events out to redis pub/sub and NATS for
// external consumers (audit, analytics). Either client may be nil.
func NewEventPublisher(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) EventPublisher {
	if redisClient == nil && natsConn == nil {
		return NewNoopPublisher()
	}

	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &firehosePublisher{
		redis:   redisClient,
		channel: channel,
		nats:    natsConn,
		subject: subject,
		nodeID:  uuid.NewString(),
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *firehosePublisher) Publish(ctx context.Context, roomID string, event dto.Event) {
	payload, err := json.Marshal(firehoseEvent{
		Source: p.nodeID,
		RoomID: roomID,
		Event:  event,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to marshal firehose event")
		return
	}

	if p.redis != nil && p.channel != "" {
		if err := p.redis.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to publish event to redis")
		}
	}

	if p.nats != nil && p.subject != "" {
		if err := p.nats.Publish(p.subject, payload); err != nil {
			p.logger.Warn().Err(err).Msg("failed to publish event to nats")
		}
	}
}
