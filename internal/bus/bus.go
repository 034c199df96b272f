// Package bus carries supervisor/agent messages. The in-memory queue is
// the source of truth; a Redis Streams mirror can be attached for
// external observability, and mirror failures never propagate.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageType distinguishes queue entries.
type MessageType string

const (
	MessageRequest   MessageType = "request"
	MessageResponse  MessageType = "response"
	MessageBroadcast MessageType = "broadcast"
)

// Message is one supervisor/agent exchange.
type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Mirror receives a copy of every published message.
type Mirror interface {
	Publish(ctx context.Context, msg *Message) error
}

// Queue is the in-memory message queue.
type Queue struct {
	mu     sync.Mutex
	msgs   []Message
	mirror Mirror
	logger *zap.Logger
}

// NewQueue creates an empty message queue.
func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{logger: logger}
}

// SetMirror attaches an observability mirror.
func (q *Queue) SetMirror(m Mirror) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mirror = m
}

// Send enqueues a message, assigning id and timestamp when absent.
func (q *Queue) Send(ctx context.Context, msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	mirror := q.mirror
	q.mu.Unlock()

	if mirror != nil {
		if err := mirror.Publish(ctx, &msg); err != nil {
			q.logger.Warn("message mirror publish failed",
				zap.String("recipient", msg.Recipient),
				zap.Error(err))
		}
	}
	return msg
}

// Messages returns a copy of the queue contents in send order.
func (q *Queue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.msgs))
	copy(out, q.msgs)
	return out
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = nil
}
