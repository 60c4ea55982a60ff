package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-labs/heimdall/internal/models"
)

// buildChain produces a well-formed in-memory chain without a database.
func buildChain(t *testing.T, n int) []models.AuditEntry {
	t.Helper()

	entries := make([]models.AuditEntry, 0, n)
	prev := GenesisHash
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		e := models.AuditEntry{
			Seq:       uint64(i + 1),
			ID:        string(rune('a'+i)) + "-entry",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			EventType: models.EventTypeCircuitPause,
			UserID:    "user-1",
			Action:    "pause oracle",
			Resource:  "oracle",
			Result:    models.ResultSuccess,
			Severity:  models.SeverityCritical,
			PrevHash:  prev,
		}
		hash, err := EntryHash(&e)
		require.NoError(t, err)
		e.Hash = hash
		prev = hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyChain_Valid(t *testing.T) {
	entries := buildChain(t, 4)

	report, err := VerifyChain(entries)
	require.NoError(t, err)
	assert.True(t, report.OverallValid)
	assert.Equal(t, 4, report.ValidEntries)
	assert.Empty(t, report.BrokenLinks)
}

func TestVerifyChain_Empty(t *testing.T) {
	report, err := VerifyChain(nil)
	require.NoError(t, err)
	assert.True(t, report.OverallValid)
	assert.Zero(t, report.TotalChecked)
}

func TestVerifyChain_MutatedFieldIsPinpointed(t *testing.T) {
	fields := map[string]func(e *models.AuditEntry){
		"action":    func(e *models.AuditEntry) { e.Action = "changed after the fact" },
		"user_id":   func(e *models.AuditEntry) { e.UserID = "someone-else" },
		"result":    func(e *models.AuditEntry) { e.Result = models.ResultFailure },
		"new_value": func(e *models.AuditEntry) { e.NewValue = "tampered" },
		"timestamp": func(e *models.AuditEntry) { e.Timestamp = e.Timestamp.Add(time.Second) },
	}

	for name, mutate := range fields {
		t.Run(name, func(t *testing.T) {
			entries := buildChain(t, 5)
			mutate(&entries[2])

			report, err := VerifyChain(entries)
			require.NoError(t, err)
			assert.False(t, report.OverallValid)
			require.NotEmpty(t, report.BrokenLinks)
			assert.Equal(t, 2, report.BrokenLinks[0].Index)
		})
	}
}

func TestVerifyChain_BrokenLink(t *testing.T) {
	entries := buildChain(t, 3)
	entries[1].PrevHash = GenesisHash
	// Re-hash so only the linkage is wrong, not the entry itself.
	hash, err := EntryHash(&entries[1])
	require.NoError(t, err)
	entries[1].Hash = hash

	report, err := VerifyChain(entries)
	require.NoError(t, err)
	assert.False(t, report.OverallValid)
	require.Len(t, report.BrokenLinks, 2)
	assert.Equal(t, 1, report.BrokenLinks[0].Index)
	// Entry 2 still links to the old hash of entry 1, so it breaks too.
	assert.Equal(t, 2, report.BrokenLinks[1].Index)
}

func TestVerifyChain_BadGenesis(t *testing.T) {
	entries := buildChain(t, 1)
	entries[0].PrevHash = "deadbeef"
	hash, err := EntryHash(&entries[0])
	require.NoError(t, err)
	entries[0].Hash = hash

	report, err := VerifyChain(entries)
	require.NoError(t, err)
	assert.False(t, report.OverallValid)
}

func TestVerifyChain_SubRangeAnchorsOnFirstEntry(t *testing.T) {
	entries := buildChain(t, 6)

	// A window that starts mid-chain must verify on its own.
	report, err := VerifyChain(entries[2:5])
	require.NoError(t, err)
	assert.True(t, report.OverallValid)
	assert.Equal(t, 3, report.TotalChecked)
}

func TestDetectTampering_CleanChain(t *testing.T) {
	alerts, err := DetectTampering(buildChain(t, 4))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDetectTampering_DuplicateID(t *testing.T) {
	entries := buildChain(t, 3)
	entries[2].ID = entries[0].ID
	hash, err := EntryHash(&entries[2])
	require.NoError(t, err)
	entries[2].Hash = hash

	alerts, err := DetectTampering(entries)
	require.NoError(t, err)

	found := false
	for _, a := range alerts {
		if a.Reason == "duplicate entry ID" {
			found = true
			assert.Equal(t, models.SeverityCritical, a.Severity)
		}
	}
	assert.True(t, found)
}

func TestDetectTampering_TimestampRegression(t *testing.T) {
	entries := buildChain(t, 3)
	entries[2].Timestamp = entries[0].Timestamp.Add(-time.Hour)
	hash, err := EntryHash(&entries[2])
	require.NoError(t, err)
	entries[2].Hash = hash

	alerts, err := DetectTampering(entries)
	require.NoError(t, err)

	found := false
	for _, a := range alerts {
		if a.Reason == "timestamp earlier than preceding entry" {
			found = true
			assert.Equal(t, models.SeverityWarning, a.Severity)
		}
	}
	assert.True(t, found)
}

func TestDetectTampering_SequenceGap(t *testing.T) {
	entries := buildChain(t, 4)
	// Simulate a deleted row: drop entry 2 and re-link its successor.
	trimmed := append([]models.AuditEntry{}, entries[0], entries[1], entries[3])
	trimmed[2].PrevHash = trimmed[1].Hash
	hash, err := EntryHash(&trimmed[2])
	require.NoError(t, err)
	trimmed[2].Hash = hash

	alerts, err := DetectTampering(trimmed)
	require.NoError(t, err)

	found := false
	for _, a := range alerts {
		if a.Severity == models.SeverityWarning {
			found = true
		}
	}
	assert.True(t, found, "expected a sequence gap alert")
}
