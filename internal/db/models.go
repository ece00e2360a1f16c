package db

import (
	"time"

	"gorm.io/datatypes"
)

// PageView is one append-only page view fact. Timestamps are stored in UTC.
type PageView struct {
	ID uint `gorm:"primaryKey"`

	SessionID string `gorm:"index;size:64;not null"`
	UserID    string `gorm:"index;size:128"`

	PageURL   string `gorm:"index;size:2048;not null"`
	PageTitle string `gorm:"size:512"`
	Referrer  string `gorm:"size:2048"`

	IPAddress string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`

	ScreenWidth  int
	ScreenHeight int
	Language     string `gorm:"size:32"`

	// Duration is the client-reported time on page in seconds.
	Duration float64

	Timestamp time.Time `gorm:"column:occurred_at;index;not null"`
}

// Event is one append-only custom event. Properties is free-form JSON so
// callers can attach anything without schema changes.
type Event struct {
	ID uint `gorm:"primaryKey"`

	SessionID string `gorm:"index;size:64"`
	UserID    string `gorm:"index;size:128"`

	EventType string `gorm:"index;size:128;not null"`
	EventName string `gorm:"size:256;not null"`

	Properties datatypes.JSONMap `gorm:"type:json"`

	PageURL   string `gorm:"size:2048"`
	IPAddress string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`

	Timestamp time.Time `gorm:"column:occurred_at;index;not null"`
}
