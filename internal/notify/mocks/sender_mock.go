// Package mocks provides a recording Telegram sender for tests.
package mocks

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// MessageSender sends Telegram messages.
// It lives here so tests in other packages can use MockSender without an import cycle.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// SentMessage captures a message sent via MockSender.
type SentMessage struct {
	ChatID any
	Text   string
}

var _ MessageSender = (*MockSender)(nil)

// MockSender records messages instead of sending them.
type MockSender struct {
	mu sync.RWMutex

	SentMessages []SentMessage

	// SendMessageError allows simulating SendMessage failures.
	SendMessageError error

	nextMessageID int
}

// NewMockSender creates a new MockSender.
func NewMockSender() *MockSender {
	return &MockSender{nextMessageID: 1000}
}

// SendMessage records the message.
func (m *MockSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendMessageError != nil {
		return nil, m.SendMessageError
	}

	m.SentMessages = append(m.SentMessages, SentMessage{ChatID: params.ChatID, Text: params.Text})

	id := m.nextMessageID
	m.nextMessageID++
	return &models.Message{
		ID:   id,
		Chat: models.Chat{ID: chatIDToInt64(params.ChatID)},
		Text: params.Text,
	}, nil
}

// SentMessageCount returns the number of recorded messages.
func (m *MockSender) SentMessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.SentMessages)
}

// LastSentMessage returns the most recent message, or nil.
func (m *MockSender) LastSentMessage() *SentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.SentMessages) == 0 {
		return nil
	}
	msg := m.SentMessages[len(m.SentMessages)-1]
	return &msg
}

func chatIDToInt64(chatID any) int64 {
	switch v := chatID.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
