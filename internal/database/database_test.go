package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-labs/heimdall/internal/models"
)

func TestOpen(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "heimdall.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BreakerState{}))

	require.NoError(t, db.Save(&models.BreakerState{Module: "dex", Paused: true, Reason: "test"}).Error)

	var s models.BreakerState
	require.NoError(t, db.First(&s, "module = ?", "dex").Error)
	assert.True(t, s.Paused)

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}
