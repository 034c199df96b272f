package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "arbiter:agent:"

// RedisMirror publishes message copies to per-recipient Redis Streams.
type RedisMirror struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisMirror connects a Redis-backed message mirror.
func NewRedisMirror(redisURL string, logger *zap.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisMirror{rdb: rdb, logger: logger}, nil
}

// Publish appends the message to the recipient's stream.
func (m *RedisMirror) Publish(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	stream := streamPrefix + msg.Recipient
	_, err = m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	m.logger.Debug("mirrored message",
		zap.String("sender", msg.Sender),
		zap.String("recipient", msg.Recipient),
		zap.String("type", string(msg.Type)))
	return nil
}

// Read returns up to count messages from a recipient's stream starting
// at lastID ("0" for the beginning), blocking up to block.
func (m *RedisMirror) Read(ctx context.Context, recipient, lastID string, count int64, block time.Duration) ([]Message, string, error) {
	if lastID == "" {
		lastID = "0"
	}
	results, err := m.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamPrefix + recipient, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		return nil, lastID, err
	}

	var out []Message
	for _, r := range results {
		for _, raw := range r.Messages {
			lastID = raw.ID
			data, ok := raw.Values["data"].(string)
			if !ok {
				continue
			}
			var msg Message
			if json.Unmarshal([]byte(data), &msg) == nil {
				out = append(out, msg)
			}
		}
	}
	return out, lastID, nil
}

// Close shuts down the Redis connection.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
