package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/bloodcell/internal/api/handler"
	"github.com/timmy/bloodcell/internal/api/middleware"
	"github.com/timmy/bloodcell/internal/service"
)

// RouterConfig holds the HTTP-layer settings.
type RouterConfig struct {
	Mode           string
	CORS           middleware.CORSConfig
	MaxUploadBytes int64
	HealthChecks   []handler.Check
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *service.AnalysisService, cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(cfg.HealthChecks...)
	analysisHandler := handler.NewAnalysisHandler(svc, cfg.MaxUploadBytes)
	explanationHandler := handler.NewExplanationHandler(svc)

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Health)

		// Analysis pipeline
		api.POST("/upload", analysisHandler.Upload)
		api.GET("/progress/:id", analysisHandler.Progress)
		api.GET("/results/:id", analysisHandler.Results)
		api.GET("/images/:id", analysisHandler.Image)

		// Explanations
		api.POST("/medical-explanation/:id", explanationHandler.Explain)
		api.POST("/follow-up-question", explanationHandler.FollowUp)
		api.GET("/follow-up-questions/:id", explanationHandler.FollowUps)

		// Archive
		api.GET("/analyses", analysisHandler.Recent)
		api.DELETE("/analyses/:id", analysisHandler.Delete)
		api.GET("/similar/:id", analysisHandler.Similar)
		api.GET("/stats", analysisHandler.Stats)
	}

	return r
}
