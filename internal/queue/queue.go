// Package queue defines the at-least-once consumption contract used by the
// import and analytics workers, plus SQS and in-memory implementations.
package queue

import (
	"context"
	"strconv"
	"sync"
)

// Message is one delivered queue message.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
}

// BatchHandler processes one delivery. It returns the ids of the messages that
// failed; only those are redelivered.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []Message) []string
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, msgs []Message) []string

// HandleBatch calls f.
func (f BatchHandlerFunc) HandleBatch(ctx context.Context, msgs []Message) []string {
	return f(ctx, msgs)
}

// Sender enqueues a message body and returns its message id.
type Sender interface {
	Send(ctx context.Context, body []byte, attrs map[string]string) (string, error)
}

// MemorySender keeps sent messages in memory. It backs local runs and tests.
type MemorySender struct {
	mu       sync.Mutex
	seq      int
	messages []Message
}

// NewMemorySender creates an empty MemorySender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// Send appends a message.
func (s *MemorySender) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := "mem-" + strconv.Itoa(s.seq)
	s.messages = append(s.messages, Message{ID: id, Body: append([]byte(nil), body...), Attributes: attrs})
	return id, nil
}

// Messages returns a copy of everything sent so far.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Drain removes and returns everything sent so far.
func (s *MemorySender) Drain() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.messages
	s.messages = nil
	return out
}
