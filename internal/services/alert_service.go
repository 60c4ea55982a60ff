package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/logger"
	"github.com/heimdall-labs/heimdall/internal/models"
)

// AlertService fans control events out to external channels (Discord,
// Slack, Gotify, ...) through shoutrrr. It is a best-effort observer:
// it consumes the coordinator's event channel on its own goroutine and
// never blocks a control operation.
type AlertService struct {
	DB *gorm.DB
}

func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{DB: db}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

// normalizeURL rewrites plain Discord webhook URLs into shoutrrr's
// discord://token@id form; other URLs pass through untouched.
func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
		}
	}
	return rawURL
}

// Consume drains the coordinator's event channel until it is closed.
// Run on a dedicated goroutine.
func (s *AlertService) Consume(events <-chan control.ControlEvent) {
	for ev := range events {
		s.Dispatch(ev)
	}
}

// Dispatch sends one event to every enabled provider whose preferences
// match, each on its own goroutine.
func (s *AlertService) Dispatch(ev control.ControlEvent) {
	var providers []models.AlertProvider
	if err := s.DB.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Log().WithError(err).Error("Failed to fetch alert providers")
		return
	}

	title, message := formatEvent(ev)
	for _, provider := range providers {
		if !wantsEvent(&provider, ev.EventType) {
			continue
		}

		go func(p models.AlertProvider) {
			url := normalizeURL(p.Type, p.URL)
			msg := fmt.Sprintf("%s\n\n%s", title, message)
			if err := shoutrrr.Send(url, msg); err != nil {
				logger.Log().WithError(err).WithField("provider", p.Name).Error("Failed to send alert")
			}
		}(provider)
	}
}

func wantsEvent(p *models.AlertProvider, t models.EventType) bool {
	switch t {
	case models.EventTypeCircuitPause:
		return p.NotifyPause
	case models.EventTypeCircuitResume:
		return p.NotifyResume
	case models.EventTypeEmergencyHalt, models.EventTypeEmergencyResume:
		return p.NotifyEmergency
	case models.EventTypeIntegrityAlert:
		return p.NotifyIntegrity
	case models.EventTypeAuthFailure:
		return p.NotifyDenied
	}
	return true
}

func formatEvent(ev control.ControlEvent) (string, string) {
	var title string
	switch ev.EventType {
	case models.EventTypeCircuitPause:
		title = fmt.Sprintf("Circuit breaker paused: %s", strings.Join(ev.Modules, ", "))
	case models.EventTypeCircuitResume:
		title = fmt.Sprintf("Circuit breaker resumed: %s", strings.Join(ev.Modules, ", "))
	case models.EventTypeEmergencyHalt:
		title = "EMERGENCY HALT"
	case models.EventTypeEmergencyResume:
		title = "Emergency resume"
	case models.EventTypeIntegrityAlert:
		title = "AUDIT CHAIN INTEGRITY ALERT"
	case models.EventTypeAuthFailure:
		title = fmt.Sprintf("Control operation denied: %s", ev.Operation)
	default:
		title = fmt.Sprintf("Control event: %s", ev.Operation)
	}

	message := fmt.Sprintf("Actor: %s\nReason: %s\nResult: %s\nTime: %s\nAudit entry: %s",
		ev.Actor, ev.Reason, ev.Result, ev.Timestamp.Format(time.RFC3339), ev.EntryID)
	return title, message
}

// Provider management, backing the admin API.

func (s *AlertService) List() ([]models.AlertProvider, error) {
	var providers []models.AlertProvider
	err := s.DB.Order("created_at desc").Find(&providers).Error
	return providers, err
}

func (s *AlertService) Get(id string) (*models.AlertProvider, error) {
	var provider models.AlertProvider
	if err := s.DB.Where("id = ?", id).First(&provider).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

func (s *AlertService) Create(provider *models.AlertProvider) error {
	return s.DB.Create(provider).Error
}

func (s *AlertService) Update(provider *models.AlertProvider) error {
	return s.DB.Save(provider).Error
}

func (s *AlertService) Delete(id string) error {
	return s.DB.Delete(&models.AlertProvider{}, "id = ?", id).Error
}

// Test sends a test message through one provider so operators can check
// the URL before relying on it during an incident.
func (s *AlertService) Test(id string) error {
	provider, err := s.Get(id)
	if err != nil {
		return err
	}
	url := normalizeURL(provider.Type, provider.URL)
	return shoutrrr.Send(url, "Heimdall test alert\n\nIf you can read this, the provider is configured correctly.")
}
