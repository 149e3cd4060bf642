package storage

import (
	"time"
)

// Event is one task outcome.
type Event struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Task       string    `gorm:"index;size:32" json:"task"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Message    string    `json:"message,omitempty"`

	// Weather fields are filled for successful weather refreshes.
	Condition   string  `gorm:"size:32" json:"condition,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Restart records why the process restarted itself.
type Restart struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Code      string    `gorm:"size:16" json:"code"`
	Message   string    `json:"message"`
}
