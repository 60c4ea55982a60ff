package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/models"
	"github.com/heimdall-labs/heimdall/internal/services"
)

type AlertProviderHandler struct {
	service *services.AlertService
}

func NewAlertProviderHandler(service *services.AlertService) *AlertProviderHandler {
	return &AlertProviderHandler{service: service}
}

func (h *AlertProviderHandler) List(c *gin.Context) {
	providers, err := h.service.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list providers"})
		return
	}
	c.JSON(http.StatusOK, providers)
}

func (h *AlertProviderHandler) Create(c *gin.Context) {
	var provider models.AlertProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if provider.Name == "" || provider.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and url are required"})
		return
	}

	if err := h.service.Create(&provider); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create provider"})
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (h *AlertProviderHandler) Update(c *gin.Context) {
	var provider models.AlertProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider.ID = c.Param("id")

	if err := h.service.Update(&provider); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update provider"})
		return
	}
	c.JSON(http.StatusOK, provider)
}

func (h *AlertProviderHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete provider"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Test sends a test alert through the provider so operators can validate
// the URL before an incident depends on it.
func (h *AlertProviderHandler) Test(c *gin.Context) {
	if err := h.service.Test(c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}
