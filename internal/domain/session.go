package domain

import "time"

type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreatedSession is a new session together with the location the UI should navigate to
type CreatedSession struct {
	Session Session
	URL     string
}
