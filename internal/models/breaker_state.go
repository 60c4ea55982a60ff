package models

import (
	"time"
)

// BreakerState is the durable circuit-breaker status for one module.
// It is mutated only through the breaker registry; one row per module.
type BreakerState struct {
	Module     string     `json:"module" gorm:"primaryKey"`
	Paused     bool       `json:"paused"`
	Reason     string     `json:"reason"`
	PausedBy   string     `json:"paused_by,omitempty"`
	PausedAt   *time.Time `json:"paused_at,omitempty"`
	AutoResume bool       `json:"auto_resume"`
	ResumeAt   *time.Time `json:"resume_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
