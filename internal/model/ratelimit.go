package model

import "time"

// RateLimitWindow is the fixed-window counter for one session.
type RateLimitWindow struct {
	SessionID    string    `gorm:"primaryKey;size:128"`
	MessageCount int       `gorm:"not null"`
	WindowStart  time.Time `gorm:"not null"`
}

func (RateLimitWindow) TableName() string {
	return "rate_limit_windows"
}
