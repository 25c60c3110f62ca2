package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultKey is the Redis list that carries domain events.
const DefaultKey = "classpresence:events"

const (
	defaultBlock = 5 * time.Second
	retryDelay   = time.Second
)

// envelope is the list entry format.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// RedisQueue is a FIFO over one Redis list: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	key    string
	block  time.Duration
}

// NewRedisQueue returns a queue on key, or on DefaultKey when key is empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key, block: defaultBlock}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	entry, err := pack(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, entry).Err(); err != nil {
		return fmt.Errorf("push %q event: %w", msg.Type, err)
	}
	return nil
}

// Consume pops entries until ctx ends. Redis errors are retried after a pause;
// entries that fail to unpack are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.block, q.key).Result()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				log.Warn().Err(err).Str("queue", q.key).Msg("queue pop failed")
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			// BRPOP replies [key, value].
			if len(res) != 2 {
				continue
			}
			msg, err := unpack(res[1])
			if err != nil {
				log.Warn().Err(err).Str("queue", q.key).Msg("dropping malformed queue entry")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func pack(msg Message) (string, error) {
	if !json.Valid(msg.Body) {
		return "", fmt.Errorf("%q event body is not JSON", msg.Type)
	}
	b, err := json.Marshal(envelope{Type: msg.Type, Body: msg.Body})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unpack(s string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Message{}, fmt.Errorf("unpack queue entry: %w", err)
	}
	return Message{Type: env.Type, Body: env.Body}, nil
}
