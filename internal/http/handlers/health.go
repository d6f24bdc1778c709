package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/AlPairo/temis-backend/internal/http/response"
	"github.com/AlPairo/temis-backend/internal/observability"
)

func HealthCheck(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "ok"})
}

// Metrics exposes the in-process counters as JSON.
func Metrics(c *gin.Context) {
	m := observability.Current()
	if m == nil {
		response.RespondOK(c, gin.H{})
		return
	}
	response.RespondOK(c, m.Snapshot())
}
