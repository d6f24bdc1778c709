package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/AlPairo/temis-backend/internal/http/handlers"
	httpMW "github.com/AlPairo/temis-backend/internal/http/middleware"
	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ChatHandler *httpH.ChatHandler
	GinMode     string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if observability.OtelEnabled() {
		r.Use(otelgin.Middleware("temis-backend"))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	r.GET("/healthcheck", httpH.HealthCheck)
	r.GET("/metrics", httpH.Metrics)

	api := r.Group("/api")
	{
		if cfg.ChatHandler != nil {
			api.POST("/conversations", cfg.ChatHandler.CreateConversation)
			api.GET("/conversations", cfg.ChatHandler.ListConversations)
			api.GET("/conversations/:id/messages", cfg.ChatHandler.GetMessages)
			api.GET("/conversations/:id/retrieval-events", cfg.ChatHandler.GetRetrievalEvents)
			api.GET("/conversations/:id/audit", cfg.ChatHandler.GetAuditTrail)
			api.POST("/conversations/:id/messages/stream", cfg.ChatHandler.StreamMessage)
		}
	}

	return r
}
