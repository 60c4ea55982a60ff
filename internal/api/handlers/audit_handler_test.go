package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/models"
)

// pauseDEX drives one authorized control operation so the audit chain has
// real content to query.
func pauseDEX(t *testing.T, h *apiHarness) *models.AuditEntry {
	t.Helper()

	params := map[string]interface{}{"module": "dex", "reason": "halt"}
	entry, err := h.coord.Execute(control.ExecuteRequest{
		Operation: control.OpPauseModule,
		Params:    params,
		MultiSig:  h.sign(t, control.OpPauseModule, params, 0, 1),
		Actor:     control.Actor{UserID: "u-1", UserEmail: "ops@example.com", UserRole: "admin"},
	})
	require.NoError(t, err)
	return entry
}

func TestAuditAPI_List(t *testing.T) {
	h := setupAPI(t)
	pauseDEX(t, h)

	w := h.request(t, http.MethodGet, "/api/v1/audit?event_type=circuit_pause", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
		Total   int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "dex", resp.Entries[0].Resource)
}

func TestAuditAPI_GetByID(t *testing.T) {
	h := setupAPI(t)
	entry := pauseDEX(t, h)

	w := h.request(t, http.MethodGet, "/api/v1/audit/"+entry.ID, "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), entry.Hash)

	w = h.request(t, http.MethodGet, "/api/v1/audit/missing-id", "viewer", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditAPI_VerifyChain(t *testing.T) {
	h := setupAPI(t)
	pauseDEX(t, h)

	w := h.request(t, http.MethodGet, "/api/v1/audit/verify", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report audit.IntegrityReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.OverallValid)
	assert.Equal(t, 1, report.TotalChecked)
}

func TestAuditAPI_VerifyChainReportsTampering(t *testing.T) {
	h := setupAPI(t)
	entry := pauseDEX(t, h)

	require.NoError(t, h.db.Model(&models.AuditEntry{}).
		Where("id = ?", entry.ID).
		Update("action", "rewritten").Error)

	w := h.request(t, http.MethodGet, "/api/v1/audit/verify", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report audit.IntegrityReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.False(t, report.OverallValid)
	assert.NotEmpty(t, report.BrokenLinks)
}

func TestAuditAPI_DetectTampering(t *testing.T) {
	h := setupAPI(t)
	pauseDEX(t, h)

	w := h.request(t, http.MethodGet, "/api/v1/audit/tampering", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts  []audit.TamperAlert `json:"alerts"`
		Checked int                 `json:"checked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Alerts)
	assert.Equal(t, 1, resp.Checked)
}
