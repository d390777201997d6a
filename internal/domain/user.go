package domain

import (
	"time"
)

type User struct {
	UserID      string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	SeenCount   int64
}

type UserPreferences struct {
	UserID string
	// Empty when no session is active
	ActiveSessionID string
	UpdatedAt       time.Time
}
