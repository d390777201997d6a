package domain

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type Message struct {
	ID        string
	SessionID string
	UserID    string
	Role      Role
	Content   string
	// Empty for messages that do not answer another message
	ParentID    string
	ContentType string
	CreatedAt   time.Time
}

func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: message id is empty", ErrInvalidInput)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role '%s'", ErrInvalidInput, m.Role)
	}
	return nil
}
