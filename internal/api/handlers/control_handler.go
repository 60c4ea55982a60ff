package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heimdall-labs/heimdall/internal/api/middleware"
	"github.com/heimdall-labs/heimdall/internal/breaker"
	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/multisig"
)

// ControlHandler exposes the multisig-gated control operations over HTTP.
// The handler only assembles requests; all decisions live in the
// coordinator.
type ControlHandler struct {
	coord    *control.Coordinator
	registry *breaker.Registry
}

func NewControlHandler(coord *control.Coordinator, registry *breaker.Registry) *ControlHandler {
	return &ControlHandler{coord: coord, registry: registry}
}

// controlRequest is the request body shared by the control endpoints.
// Fields irrelevant to an operation are left empty and never enter the
// canonical message.
type controlRequest struct {
	Module            string                   `json:"module"`
	Reason            string                   `json:"reason"`
	AutoResumeMinutes *float64                 `json:"auto_resume_minutes,omitempty"`
	Parameter         string                   `json:"parameter"`
	Value             string                   `json:"value"`
	MFACode           string                   `json:"mfa_code"`
	MultiSig          *multisig.MultiSignature `json:"multisig" binding:"required"`
}

func actorFromContext(c *gin.Context) control.Actor {
	return control.Actor{
		UserID:    c.GetString(middleware.UserIDKey),
		UserEmail: c.GetString(middleware.UserEmailKey),
		UserRole:  c.GetString(middleware.UserRoleKey),
	}
}

func (h *ControlHandler) execute(c *gin.Context, operation string, params map[string]interface{}, req *controlRequest) {
	entry, err := h.coord.Execute(control.ExecuteRequest{
		Operation: operation,
		Params:    params,
		MultiSig:  req.MultiSig,
		MFACode:   req.MFACode,
		Actor:     actorFromContext(c),
	})
	if err != nil {
		status := controlErrorStatus(err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "audit_entry": entry})
}

func controlErrorStatus(err error) int {
	switch {
	case errors.Is(err, control.ErrMessageMismatch),
		errors.Is(err, control.ErrMissingParam),
		errors.Is(err, control.ErrUnknownOperation),
		errors.Is(err, breaker.ErrUnknownModule):
		return http.StatusBadRequest
	case errors.Is(err, control.ErrInsufficientAuthorization),
		errors.Is(err, control.ErrMFARequired),
		errors.Is(err, control.ErrInvalidMFACode):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Pause handles POST /controls/pause.
func (h *ControlHandler) Pause(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := map[string]interface{}{"module": req.Module, "reason": req.Reason}
	if req.AutoResumeMinutes != nil {
		params["auto_resume_minutes"] = *req.AutoResumeMinutes
	}
	h.execute(c, control.OpPauseModule, params, &req)
}

// Resume handles POST /controls/resume.
func (h *ControlHandler) Resume(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.execute(c, control.OpResumeModule, map[string]interface{}{
		"module": req.Module,
		"reason": req.Reason,
	}, &req)
}

// EmergencyHalt handles POST /controls/emergency/halt. Without a module it
// halts everything; with one it is the scoped emergency variant. Both need
// the MFA code on top of the multisig.
func (h *ControlHandler) EmergencyHalt(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := map[string]interface{}{"reason": req.Reason}
	if req.Module != "" {
		params["module"] = req.Module
	}
	h.execute(c, control.OpEmergencyHalt, params, &req)
}

// EmergencyResumeAll handles POST /controls/emergency/resume-all.
func (h *ControlHandler) EmergencyResumeAll(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.execute(c, control.OpEmergencyResumeAll, map[string]interface{}{
		"reason": req.Reason,
	}, &req)
}

// OverrideParams handles POST /controls/params/override.
func (h *ControlHandler) OverrideParams(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := map[string]interface{}{
		"module":    req.Module,
		"parameter": req.Parameter,
		"value":     req.Value,
	}
	if req.Reason != "" {
		params["reason"] = req.Reason
	}
	h.execute(c, control.OpOverrideParams, params, &req)
}

// Status handles GET /controls/status and /controls/status/:module.
func (h *ControlHandler) Status(c *gin.Context) {
	if module := c.Param("module"); module != "" {
		s, err := h.registry.Status(module)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s)
		return
	}
	c.JSON(http.StatusOK, h.registry.AllStatuses())
}

// ParamOverrides handles GET /controls/params.
func (h *ControlHandler) ParamOverrides(c *gin.Context) {
	rows, err := h.coord.ParamOverrides(c.Query("module"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list parameter overrides"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Verify handles POST /controls/verify: dry-run multisig verification with
// no state change and no audit entry.
func (h *ControlHandler) Verify(c *gin.Context) {
	var ms multisig.MultiSignature
	if err := c.ShouldBindJSON(&ms); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coord.Verify(&ms)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
