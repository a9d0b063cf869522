package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"billing-service/internal/models"
	"billing-service/internal/repository"
)

// GatewayHandler handles gateway listing and service health requests
type GatewayHandler struct {
	repo repository.BillingRepositoryInterface
	db   *gorm.DB
}

// NewGatewayHandler creates a new gateway handler
func NewGatewayHandler(repo repository.BillingRepositoryInterface, db *gorm.DB) *GatewayHandler {
	return &GatewayHandler{repo: repo, db: db}
}

// ListGateways handles GET /api/v1/gateways
func (h *GatewayHandler) ListGateways(c *gin.Context) {
	configs, err := h.repo.ListGatewayConfigs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	gateways := make([]models.GatewayInfo, 0, len(configs))
	for i := range configs {
		if !configs[i].IsActive {
			continue
		}
		gateways = append(gateways, models.NewGatewayInfo(&configs[i]))
	}

	c.JSON(http.StatusOK, gin.H{"gateways": gateways})
}

// Health handles GET /health
func (h *GatewayHandler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "billing-service",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "billing-service",
	})
}
