package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/models"
)

func setupAlertTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AlertProvider{}))

	return db
}

func TestNormalizeURL_Discord(t *testing.T) {
	url := normalizeURL("discord", "https://discord.com/api/webhooks/12345/abcDEF_-123")
	assert.Equal(t, "discord://abcDEF_-123@12345", url)

	url = normalizeURL("discord", "https://discordapp.com/api/webhooks/999/tok")
	assert.Equal(t, "discord://tok@999", url)
}

func TestNormalizeURL_Passthrough(t *testing.T) {
	raw := "slack://token-a/token-b/token-c"
	assert.Equal(t, raw, normalizeURL("slack", raw))
	assert.Equal(t, "https://example.com/hook", normalizeURL("discord", "https://example.com/hook"))
}

func TestWantsEvent(t *testing.T) {
	p := &models.AlertProvider{
		NotifyPause:     true,
		NotifyResume:    false,
		NotifyEmergency: true,
		NotifyIntegrity: true,
		NotifyDenied:    false,
	}

	assert.True(t, wantsEvent(p, models.EventTypeCircuitPause))
	assert.False(t, wantsEvent(p, models.EventTypeCircuitResume))
	assert.True(t, wantsEvent(p, models.EventTypeEmergencyHalt))
	assert.True(t, wantsEvent(p, models.EventTypeEmergencyResume))
	assert.True(t, wantsEvent(p, models.EventTypeIntegrityAlert))
	assert.False(t, wantsEvent(p, models.EventTypeAuthFailure))
}

func TestFormatEvent(t *testing.T) {
	ev := control.ControlEvent{
		EntryID:   "entry-1",
		Operation: "pause_module",
		EventType: models.EventTypeCircuitPause,
		Modules:   []string{"dex"},
		Actor:     "ops@example.com",
		Reason:    "oracle divergence",
		Result:    models.ResultSuccess,
		Severity:  models.SeverityCritical,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	title, message := formatEvent(ev)
	assert.Contains(t, title, "dex")
	assert.Contains(t, message, "ops@example.com")
	assert.Contains(t, message, "entry-1")
}

func TestAlertService_CRUD(t *testing.T) {
	s := NewAlertService(setupAlertTestDB(t))

	provider := &models.AlertProvider{
		Name:    "ops-discord",
		Type:    "discord",
		URL:     "https://discord.com/api/webhooks/1/a",
		Enabled: true,
	}
	require.NoError(t, s.Create(provider))
	assert.NotEmpty(t, provider.ID)

	got, err := s.Get(provider.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops-discord", got.Name)

	got.Enabled = false
	require.NoError(t, s.Update(got))

	providers, err := s.List()
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.False(t, providers[0].Enabled)

	require.NoError(t, s.Delete(provider.ID))
	providers, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestAlertService_DispatchSkipsDisabledProviders(t *testing.T) {
	db := setupAlertTestDB(t)
	s := NewAlertService(db)

	require.NoError(t, s.Create(&models.AlertProvider{
		Name:    "disabled",
		Type:    "generic",
		URL:     "generic://example.invalid/hook",
		Enabled: false,
	}))

	// Nothing to assert beyond not panicking and not sending: the only
	// provider is disabled so no goroutines are spawned.
	s.Dispatch(control.ControlEvent{
		EventType: models.EventTypeCircuitPause,
		Timestamp: time.Now().UTC(),
	})
}
