package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veldt-labs/callbox/internal/signal"
)

const (
	redisKeyPrefix = "mailbox:"
	redisSeqKey    = "mailbox_seq"
)

// sendScript enforces the per-identity cap and pushes atomically.
// KEYS[1] = inbox list, ARGV[1] = payload, ARGV[2] = cap (0 = unlimited),
// ARGV[3] = ttl millis (0 = no expiry).
var sendScript = redis.NewScript(`
local len = redis.call("LLEN", KEYS[1])
local cap = tonumber(ARGV[2])
if cap > 0 and len >= cap then
  return -1
end
redis.call("RPUSH", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return len + 1
`)

// drainScript reads and deletes the whole inbox in one step so a message is
// delivered to exactly one poller.
var drainScript = redis.NewScript(`
local msgs = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return msgs
`)

// clearScript deletes the inbox and reports how many messages were dropped.
var clearScript = redis.NewScript(`
local len = redis.call("LLEN", KEYS[1])
redis.call("DEL", KEYS[1])
return len
`)

// RedisStore keeps each inbox as a Redis list so several callbox nodes can
// share one mailbox. Queue atomicity comes from server-side Lua scripts;
// sequence numbers from a shared INCR counter.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	cap int
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL <= 0 disables inbox expiry.
	TTL time.Duration
	// MaxQueued <= 0 disables the per-identity cap.
	MaxQueued int
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("mailbox: redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: opts.TTL, cap: opts.MaxQueued}, nil
}

func (s *RedisStore) Send(ctx context.Context, msg signal.Message) (signal.Message, error) {
	if err := msg.Validate(); err != nil {
		return signal.Message{}, err
	}

	seq, err := s.rdb.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return signal.Message{}, fmt.Errorf("mailbox: redis seq: %w", err)
	}
	msg.Seq = uint64(seq)
	msg.CreatedAt = time.Now().UTC()

	payload, err := msg.MarshalJSON()
	if err != nil {
		return signal.Message{}, fmt.Errorf("mailbox: encode message: %w", err)
	}

	n, err := sendScript.Run(ctx, s.rdb,
		[]string{redisKeyPrefix + msg.To},
		payload, s.cap, s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return signal.Message{}, fmt.Errorf("mailbox: redis send: %w", err)
	}
	if n < 0 {
		return signal.Message{}, ErrMailboxFull
	}
	return msg, nil
}

func (s *RedisStore) Poll(ctx context.Context, identity string) ([]signal.Message, error) {
	raw, err := drainScript.Run(ctx, s.rdb, []string{redisKeyPrefix + identity}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("mailbox: redis drain: %w", err)
	}

	msgs := make([]signal.Message, 0, len(raw))
	for _, item := range raw {
		var msg signal.Message
		if err := msg.UnmarshalJSON([]byte(item)); err != nil {
			return nil, fmt.Errorf("mailbox: decode queued message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *RedisStore) Clear(ctx context.Context, identity string) (int, error) {
	n, err := clearScript.Run(ctx, s.rdb, []string{redisKeyPrefix + identity}).Int64()
	if err != nil {
		return 0, fmt.Errorf("mailbox: redis clear: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
