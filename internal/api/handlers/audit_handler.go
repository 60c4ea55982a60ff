package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/models"
)

// AuditHandler serves the tamper-evident audit log: querying, single
// entries, and the integrity checks over a time window.
type AuditHandler struct {
	store *audit.Store
}

func NewAuditHandler(store *audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// List handles GET /audit with optional filters.
func (h *AuditHandler) List(c *gin.Context) {
	filters := audit.QueryFilters{
		UserID:    c.Query("user_id"),
		UserEmail: c.Query("user_email"),
		Resource:  c.Query("resource"),
		Result:    models.Result(c.Query("result")),
		Severity:  models.Severity(c.Query("severity")),
		Limit:     intQuery(c, "limit", 100),
		Offset:    intQuery(c, "offset", 0),
	}
	if et := c.Query("event_type"); et != "" {
		filters.EventTypes = []models.EventType{models.EventType(et)}
	}
	if start, ok := timeQuery(c, "start"); ok {
		filters.StartTime = start
	}
	if end, ok := timeQuery(c, "end"); ok {
		filters.EndTime = end
	}

	entries, total, err := h.store.Query(filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// Get handles GET /audit/:id.
func (h *AuditHandler) Get(c *gin.Context) {
	entry, err := h.store.GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "audit entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// VerifyChain handles GET /audit/verify: recomputes hashes and linkage
// over the requested window (default last 24h).
func (h *AuditHandler) VerifyChain(c *gin.Context) {
	entries, err := h.rangeFromQuery(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit range"})
		return
	}

	report, err := audit.VerifyChain(entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// DetectTampering handles GET /audit/tampering: chain check plus the
// duplicate-ID / timestamp / sequence heuristics.
func (h *AuditHandler) DetectTampering(c *gin.Context) {
	entries, err := h.rangeFromQuery(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit range"})
		return
	}

	alerts, err := audit.DetectTampering(entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "checked": len(entries)})
}

func (h *AuditHandler) rangeFromQuery(c *gin.Context) ([]models.AuditEntry, error) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v, ok := timeQuery(c, "start"); ok {
		start = v
	}
	if v, ok := timeQuery(c, "end"); ok {
		end = v
	}
	return h.store.Range(start, end, 0)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func timeQuery(c *gin.Context, key string) (time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
