package handlers

import (
	"net/http"

	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler はオートメーション画面向けのハンドラです。
type AutomationHandler struct {
	store   *services.TwinStore
	agents  []models.AutomationAgent
	metrics []models.ImpactMetric
}

// NewAutomationHandler は新しいAutomationHandlerを生成します。
func NewAutomationHandler(store *services.TwinStore, agents []models.AutomationAgent, metrics []models.ImpactMetric) *AutomationHandler {
	return &AutomationHandler{
		store:   store,
		agents:  append([]models.AutomationAgent{}, agents...),
		metrics: append([]models.ImpactMetric{}, metrics...),
	}
}

// GetLogs はオートメーションログを返します。
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": h.store.AutomationLogs()})
}

// GetAgents はエージェントと効果指標を返します。
func (h *AutomationHandler) GetAgents(c *gin.Context) {
	active := 0
	for _, a := range h.agents {
		if a.Status == "active" {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"agents":         h.agents,
		"active_agents":  active,
		"impact_metrics": h.metrics,
	})
}
