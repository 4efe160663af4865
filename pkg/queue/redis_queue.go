package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultPrefix       = "queue"
	defaultMaxAttempts  = 3
	defaultPollInterval = time.Second
	idempotencyTTL      = 24 * time.Hour
)

// Config configures a RedisQueue.
type Config struct {
	Prefix       string
	ConsumerID   string
	Concurrency  int
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// RedisQueue stores messages in Redis lists and sorted sets.
//
// Keys per queue:
//
//	<prefix>:<queue>:ready                 list of message ids waiting for a consumer
//	<prefix>:<queue>:delayed               zset of message ids scored by due time (unix ms)
//	<prefix>:<queue>:processing:<consumer> list of ids a consumer currently holds
//	<prefix>:<queue>:dead                  list of ids that exhausted their attempts
//	<prefix>:<queue>:idem:<key>            idempotency key → message id
//	<prefix>:msg:<id>                      message body
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisQueue constructs a queue bound to the given client.
func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = "default"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &RedisQueue{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "redis_queue").Logger(),
		now:    time.Now,
	}
}

func (q *RedisQueue) readyKey(queue string) string   { return q.cfg.Prefix + ":" + queue + ":ready" }
func (q *RedisQueue) delayedKey(queue string) string { return q.cfg.Prefix + ":" + queue + ":delayed" }
func (q *RedisQueue) deadKey(queue string) string    { return q.cfg.Prefix + ":" + queue + ":dead" }
func (q *RedisQueue) messageKey(id string) string    { return q.cfg.Prefix + ":msg:" + id }

func (q *RedisQueue) processingKey(queue string) string {
	return q.cfg.Prefix + ":" + queue + ":processing:" + q.cfg.ConsumerID
}

func (q *RedisQueue) idempotencyKey(queue, key string) string {
	return q.cfg.Prefix + ":" + queue + ":idem:" + key
}

// enqueueScript pushes the id first so a failed push leaves neither a body nor a claimed key.
// A claim whose message body is gone (acknowledged or lost) is treated as free.
//
// KEYS: idempotency key, message key, ready list. ARGV: id, body, ttl seconds.
var enqueueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing and redis.call('EXISTS', KEYS[2]) == 1 then
	return {0, existing}
end
redis.call('LPUSH', KEYS[3], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
return {1, ARGV[1]}
`)

// Enqueue stores the payload and makes it ready for delivery. When an idempotency key is
// given and a live message already owns it, the existing id is returned with created=false.
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, payload interface{}, opts Options) (string, bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("encode payload: %w", err)
	}

	id := opts.IdempotencyKey
	if id == "" {
		id = uuid.NewString()
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	msg := Message{
		ID:          id,
		Queue:       queue,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		BackoffMs:   opts.Backoff.Milliseconds(),
		EnqueuedAt:  q.now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", false, err
	}

	if opts.IdempotencyKey == "" {
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, q.messageKey(id), body, 0)
			pipe.LPush(ctx, q.readyKey(queue), id)
			return nil
		})
		if err != nil {
			return "", false, fmt.Errorf("enqueue message: %w", err)
		}
		return id, true, nil
	}

	keys := []string{q.idempotencyKey(queue, id), q.messageKey(id), q.readyKey(queue)}
	reply, err := enqueueScript.Run(ctx, q.client, keys, id, body, int64(idempotencyTTL/time.Second)).Slice()
	if err != nil {
		return "", false, fmt.Errorf("enqueue message: %w", err)
	}
	if len(reply) != 2 {
		return "", false, fmt.Errorf("enqueue message: unexpected reply %v", reply)
	}

	created, _ := reply[0].(int64)
	existing, _ := reply[1].(string)
	if existing == "" {
		existing = id
	}
	return existing, created == 1, nil
}

// Consume runs the delivery loop for queue until ctx is cancelled. Messages left in this
// consumer's processing list by a previous crash are delivered again first.
func (q *RedisQueue) Consume(ctx context.Context, queue string, handler Handler) error {
	recovered, err := q.Recover(ctx, queue)
	if err != nil {
		return err
	}
	if recovered > 0 {
		q.logger.Warn().Str("queue", queue).Int("count", recovered).Msg("requeued in-flight messages from previous run")
	}

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.loop(ctx, queue, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RedisQueue) loop(ctx context.Context, queue string, handler Handler) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.PromoteDue(ctx, queue); err != nil && ctx.Err() == nil {
			q.logger.Warn().Err(err).Str("queue", queue).Msg("promote delayed messages failed")
		}

		for ctx.Err() == nil {
			processed, err := q.ProcessNext(ctx, queue, handler)
			if err != nil && ctx.Err() == nil {
				q.logger.Warn().Err(err).Str("queue", queue).Msg("queue delivery failed")
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext delivers at most one ready message to handler. It reports whether a message
// was taken; the returned error is the store error, never the handler's.
func (q *RedisQueue) ProcessNext(ctx context.Context, queue string, handler Handler) (bool, error) {
	id, err := q.client.LMove(ctx, q.readyKey(queue), q.processingKey(queue), "RIGHT", "LEFT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	msg, err := q.load(ctx, id)
	if err != nil {
		q.client.LRem(ctx, q.processingKey(queue), 1, id)
		return true, err
	}

	handlerErr := q.invoke(ctx, msg, handler)
	if handlerErr == nil {
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey(queue), 1, id)
			pipe.Del(ctx, q.messageKey(id))
			return nil
		})
		return true, err
	}

	return true, q.retryOrBury(ctx, msg, handlerErr)
}

func (q *RedisQueue) invoke(ctx context.Context, msg Message, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func (q *RedisQueue) retryOrBury(ctx context.Context, msg Message, cause error) error {
	msg.Attempt++
	msg.LastError = cause.Error()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	logger := q.logger.With().Str("queue", msg.Queue).Str("message_id", msg.ID).Int("attempt", msg.Attempt).Logger()

	if msg.Attempt >= msg.MaxAttempts {
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, q.messageKey(msg.ID), body, 0)
			pipe.LRem(ctx, q.processingKey(msg.Queue), 1, msg.ID)
			pipe.LPush(ctx, q.deadKey(msg.Queue), msg.ID)
			pipe.Del(ctx, q.idempotencyKey(msg.Queue, msg.ID))
			return nil
		})
		logger.Error().Err(cause).Msg("message exhausted its attempts")
		return err
	}

	delay := RetryDelay(time.Duration(msg.BackoffMs)*time.Millisecond, msg.Attempt)
	due := q.now().Add(delay).UnixMilli()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.messageKey(msg.ID), body, 0)
		pipe.LRem(ctx, q.processingKey(msg.Queue), 1, msg.ID)
		pipe.ZAdd(ctx, q.delayedKey(msg.Queue), redis.Z{Score: float64(due), Member: msg.ID})
		return nil
	})
	logger.Warn().Err(cause).Dur("retry_in", delay).Msg("message scheduled for retry")
	return err
}

// PromoteDue moves delayed messages whose backoff elapsed back onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context, queue string) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(queue), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.delayedKey(queue), id).Result()
		if err != nil {
			return promoted, err
		}
		// Another consumer claimed it first.
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(queue), id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Recover returns messages held by this consumer back to the ready list.
func (q *RedisQueue) Recover(ctx context.Context, queue string) (int, error) {
	recovered := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey(queue), q.readyKey(queue), "RIGHT", "RIGHT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return recovered, nil
			}
			return recovered, err
		}
		recovered++
	}
}

// Stats reports queue depths, used for metrics and health output.
func (q *RedisQueue) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey(queue))
	delayed := pipe.ZCard(ctx, q.delayedKey(queue))
	dead := pipe.LLen(ctx, q.deadKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val(), Dead: dead.Val()}, nil
}

// Stats holds queue depth counters.
type Stats struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

func (q *RedisQueue) load(ctx context.Context, id string) (Message, error) {
	body, err := q.client.Get(ctx, q.messageKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	return msg, nil
}
