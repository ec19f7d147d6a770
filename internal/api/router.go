package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/timmy/dishrank/internal/api/handler"
	"github.com/timmy/dishrank/internal/api/middleware"
	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/service"
	"github.com/timmy/dishrank/internal/storage"
)

// Deps are the services the API routes to.
type Deps struct {
	DB        *gorm.DB
	Jobs      *repository.JobRepository
	Scheduler *service.Scheduler
	Recorder  *service.AnalyticsRecorder
	Rankings  *service.RankingService
	// Storage receives uploaded import files; nil disables uploads.
	Storage storage.ObjectStorage
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, cfg config.ServerConfig, log *logger.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB)
	importHandler := handler.NewImportHandler(deps.Scheduler, deps.Jobs, deps.Storage)
	analyticsHandler := handler.NewAnalyticsHandler(deps.Recorder)
	rankingHandler := handler.NewRankingHandler(deps.Rankings)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Imports
		v1.POST("/imports", importHandler.CreateImport)
		v1.GET("/imports", importHandler.ListImports)
		v1.GET("/imports/:jobId", importHandler.GetImport)

		// Analytics
		v1.POST("/analytics/events", analyticsHandler.RecordEvents)

		// Rankings
		v1.POST("/users/:userId/rankings", rankingHandler.SaveRankings)
		v1.GET("/users/:userId/rankings", rankingHandler.GetRankings)
		v1.DELETE("/users/:userId/rankings", rankingHandler.DeleteRankings)
		v1.GET("/rankings/leaderboard", rankingHandler.Leaderboard)
	}

	return r
}
