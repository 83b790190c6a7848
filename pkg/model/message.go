package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type MessageID string

// NewMessageID generates a new unique MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single immutable entry of the continuous conversation
type Message struct {
	ID        MessageID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Message) Validate() error {
	if m == nil {
		return goerr.Wrap(ErrValidation, "message is nil")
	}
	if m.ID == "" {
		return goerr.Wrap(ErrValidation, "message id is empty")
	}
	if !m.Role.Valid() {
		return goerr.Wrap(ErrValidation, "invalid message role", goerr.V("id", m.ID), goerr.V("role", m.Role))
	}
	return nil
}

// Before reports whether m sorts before x in conversation order
func (m *Message) Before(x *Message) bool {
	if !m.Timestamp.Equal(x.Timestamp) {
		return m.Timestamp.Before(x.Timestamp)
	}
	return m.ID < x.ID
}

// ConversationSummary holds fields derived from the whole conversation
type ConversationSummary struct {
	FirstMessage *Message  `json:"first_message,omitempty"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Recent is a bounded window of the latest messages in conversation order
	Recent []*Message `json:"recent,omitempty"`
}
