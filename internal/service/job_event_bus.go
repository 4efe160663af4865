package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
)

const jobEventBufferSize = 16

// JobEventBus fans job status changes out to websocket subscribers on every API node.
// Events cross process boundaries over NATS when connected, otherwise over Redis pub/sub.
type JobEventBus interface {
	Publish(ctx context.Context, job models.AIJob)
	Subscribe(jobID string) (<-chan dto.JobEvent, func())
	Start(ctx context.Context)
}

type jobEventBus struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	tracer       trace.Tracer
	broker       *jobEventBroker
	nodeID       string
}

type jobEventEnvelope struct {
	Source string       `json:"source"`
	Event  dto.JobEvent `json:"event"`
	SentAt time.Time    `json:"sent_at"`
}

type jobEventBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.JobEvent]struct{}
}

// NewJobEventBus constructs a job event bus. Both clients are optional; without either,
// events only reach subscribers of the publishing process.
func NewJobEventBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) JobEventBus {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":jobs"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".jobs"
	}

	return &jobEventBus{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "job_event_bus").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-assess-api/internal/service/job_events"),
		broker: &jobEventBroker{
			subscribers: make(map[string]map[chan dto.JobEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (b *jobEventBus) Start(ctx context.Context) {
	switch {
	case b.useNATS():
		b.consumeNATS(ctx)
	case b.useRedis():
		go b.consumeRedis(ctx)
	}
}

func (b *jobEventBus) Publish(ctx context.Context, job models.AIJob) {
	event := dto.NewJobEvent(job)

	spanCtx, span := b.tracer.Start(ctx, "jobs.publish_event", trace.WithAttributes(
		attribute.String("job.id", event.JobID),
		attribute.String("job.status", event.Status),
	))
	defer span.End()

	b.broadcast(event)
	if err := b.publish(spanCtx, event); err != nil {
		span.RecordError(err)
		b.logger.Warn().Err(err).Str("job_id", event.JobID).Msg("failed to publish job event to broker")
	}
}

func (b *jobEventBus) Subscribe(jobID string) (<-chan dto.JobEvent, func()) {
	channel := make(chan dto.JobEvent, jobEventBufferSize)

	b.broker.subscribe(jobID, channel)
	observability.JobStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.broker.unsubscribe(jobID, channel)
			observability.JobStreamClients().Dec()
		})
	}

	return channel, cleanup
}

func (b *jobEventBus) useNATS() bool {
	return b.nats != nil && b.natsSubject != ""
}

func (b *jobEventBus) useRedis() bool {
	return b.redis != nil && b.redisChannel != ""
}

func (b *jobEventBus) broadcast(event dto.JobEvent) {
	observability.JobEventsPublished().WithLabelValues(event.Status).Inc()
	b.broker.broadcast(event.JobID, event)
}

func (b *jobEventBus) publish(ctx context.Context, event dto.JobEvent) error {
	if !b.useNATS() && !b.useRedis() {
		return nil
	}

	payload, err := json.Marshal(jobEventEnvelope{
		Source: b.nodeID,
		Event:  event,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if b.useNATS() {
		return b.nats.Publish(b.natsSubject, payload)
	}
	return b.redis.Publish(ctx, b.redisChannel, payload).Err()
}

func (b *jobEventBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			b.logger.Error().Err(err).Msg("job event redis subscription closed")
			return
		}
		b.handleEnvelope([]byte(msg.Payload))
	}
}

func (b *jobEventBus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleEnvelope(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats job subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn().Err(err).Msg("failed to unsubscribe job nats subscription")
		}
	}()
}

func (b *jobEventBus) handleEnvelope(payload []byte) {
	var envelope jobEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid job event payload")
		return
	}

	if envelope.Source == b.nodeID || envelope.Event.JobID == "" {
		return
	}

	b.broadcast(envelope.Event)
}

func (b *jobEventBroker) subscribe(jobID string, ch chan dto.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[jobID]; !exists {
		b.subscribers[jobID] = make(map[chan dto.JobEvent]struct{})
	}
	b.subscribers[jobID][ch] = struct{}{}
}

func (b *jobEventBroker) unsubscribe(jobID string, ch chan dto.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[jobID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, jobID)
		}
	}
}

func (b *jobEventBroker) broadcast(jobID string, event dto.JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}
