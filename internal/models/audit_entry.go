package models

import (
	"time"
)

// EventType classifies an auditable control-plane event.
type EventType string

const (
	EventTypeCircuitPause    EventType = "circuit_pause"
	EventTypeCircuitResume   EventType = "circuit_resume"
	EventTypeEmergencyHalt   EventType = "emergency_halt"
	EventTypeEmergencyResume EventType = "emergency_resume"
	EventTypeParamOverride   EventType = "param_override"
	EventTypeAuthFailure     EventType = "auth_failure"
	EventTypeIntegrityAlert  EventType = "integrity_alert"
)

// Result records whether the audited action succeeded.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Severity grades the operational impact of an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AuditEntry is one tamper-evident record in the hash-chained audit log.
// Hash covers every field except itself (PrevHash included), so a retroactive
// edit to any field breaks the chain. Entries are append-only and never
// mutated after insert.
type AuditEntry struct {
	Seq           uint64    `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID            string    `json:"id" gorm:"uniqueIndex"`
	Timestamp     time.Time `json:"timestamp" gorm:"index"`
	EventType     EventType `json:"event_type" gorm:"index"`
	UserID        string    `json:"user_id" gorm:"index"`
	UserEmail     string    `json:"user_email"`
	UserRole      string    `json:"user_role"`
	Action        string    `json:"action"`
	Resource      string    `json:"resource" gorm:"index"`
	ResourceID    string    `json:"resource_id"`
	PreviousValue string    `json:"previous_value,omitempty" gorm:"type:text"`
	NewValue      string    `json:"new_value,omitempty" gorm:"type:text"`
	Result        Result    `json:"result" gorm:"index"`
	Severity      Severity  `json:"severity"`
	Metadata      string    `json:"metadata,omitempty" gorm:"type:text"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}
