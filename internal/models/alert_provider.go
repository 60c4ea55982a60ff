package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertProvider is an external channel notified after control-plane events.
// Delivery is best-effort and never sits in the authorization path.
type AlertProvider struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // discord, slack, gotify, telegram, generic
	URL     string `json:"url"`  // shoutrrr URL
	Enabled bool   `json:"enabled"`

	// Event preferences
	NotifyPause     bool `json:"notify_pause" gorm:"default:true"`
	NotifyResume    bool `json:"notify_resume" gorm:"default:true"`
	NotifyEmergency bool `json:"notify_emergency" gorm:"default:true"`
	NotifyIntegrity bool `json:"notify_integrity" gorm:"default:true"`
	NotifyDenied    bool `json:"notify_denied" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *AlertProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}
