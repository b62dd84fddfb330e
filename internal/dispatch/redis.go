package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// RedisConfig configures a RedisChannel.
type RedisConfig struct {
	URL string
	// Prefix namespaces the streams: <prefix>:agent:<id> and <prefix>:outcomes.
	Prefix string
	// SendTimeout bounds each XADD.
	SendTimeout time.Duration
	// ConnectAttempts is how many times the initial ping is tried.
	ConnectAttempts uint
}

// RedisChannel carries assignments and outcomes over Redis Streams.
// Each agent reads its own stream; every agent writes outcomes to one
// shared stream that the coordinator side listens on.
type RedisChannel struct {
	rdb    *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

var _ Channel = (*RedisChannel)(nil)

// NewRedisChannel connects to Redis, retrying the ping with backoff.
func NewRedisChannel(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisChannel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "conductor"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 1
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(cfg.ConnectAttempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			logger.Warn("redis not reachable, retrying", zap.Uint("attempt", n), zap.Error(err))
			return retry.BackOffDelay(n, err, config)
		}),
	)
	if err := r.Do(func() error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisChannel{rdb: rdb, cfg: cfg, logger: logger.Named("redis")}, nil
}

// AgentStream returns the stream an agent reads assignments from.
func (c *RedisChannel) AgentStream(agentID string) string {
	return c.cfg.Prefix + ":agent:" + agentID
}

// OutcomeStream returns the stream agents report outcomes on.
func (c *RedisChannel) OutcomeStream() string {
	return c.cfg.Prefix + ":outcomes"
}

// Send appends the assignment to the agent's stream.
func (c *RedisChannel) Send(ctx context.Context, a models.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	stream := c.AgentStream(a.AssignedAgentID)
	_, err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	c.logger.Debug("published assignment",
		zap.String("task_id", a.TaskID),
		zap.String("agent_id", a.AssignedAgentID))
	return nil
}

// Report appends an outcome to the shared outcome stream. Agents call this.
func (c *RedisChannel) Report(ctx context.Context, o Outcome) error {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.OutcomeStream(),
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

// Assignments streams new assignments for an agent until ctx is done.
func (c *RedisChannel) Assignments(ctx context.Context, agentID string) <-chan models.Assignment {
	ch := make(chan models.Assignment, 16)
	go func() {
		defer close(ch)
		c.read(ctx, c.AgentStream(agentID), func(data []byte) {
			var a models.Assignment
			if err := json.Unmarshal(data, &a); err != nil {
				c.logger.Warn("bad assignment message", zap.Error(err))
				return
			}
			select {
			case ch <- a:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}

// ListenOutcomes delivers outcomes from the shared stream to r until ctx
// is done. Only outcomes written after the call are seen.
func (c *RedisChannel) ListenOutcomes(ctx context.Context, r Reporter) {
	c.read(ctx, c.OutcomeStream(), func(data []byte) {
		var o Outcome
		if err := json.Unmarshal(data, &o); err != nil {
			c.logger.Warn("bad outcome message", zap.Error(err))
			return
		}
		if err := Deliver(r, o); err != nil {
			c.logger.Warn("outcome rejected",
				zap.String("task_id", o.TaskID),
				zap.String("agent_id", o.AgentID),
				zap.String("type", string(o.Type)),
				zap.Error(err))
		}
	})
}

// read tails a stream, handing each message's data field to fn. Only
// entries added after the first successful lookup of the stream's last ID
// are seen; from then on reading continues from the last ID handled, so
// nothing written between two reads is skipped.
func (c *RedisChannel) read(ctx context.Context, stream string, fn func([]byte)) {
	lastID := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if lastID == "" {
			id, err := c.tailID(ctx, stream)
			if err != nil {
				if !c.backoff(ctx, stream, err) {
					return
				}
				continue
			}
			lastID = id
		}

		results, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   10,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if !c.backoff(ctx, stream, err) {
				return
			}
			continue
		}

		for _, res := range results {
			for _, msg := range res.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				fn([]byte(data))
			}
		}
	}
}

// tailID returns the ID of the newest entry in stream, or "0-0" when the
// stream is empty or missing.
func (c *RedisChannel) tailID(ctx context.Context, stream string) (string, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// backoff logs a failed stream call and pauses. It returns false once ctx
// is done.
func (c *RedisChannel) backoff(ctx context.Context, stream string, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	c.logger.Warn("stream read failed", zap.String("stream", stream), zap.Error(err))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Second):
		return true
	}
}

// Close shuts down the Redis connection.
func (c *RedisChannel) Close() error {
	return c.rdb.Close()
}
