package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cineolabs/cineo-backend/internal/http/handlers"
	"github.com/cineolabs/cineo-backend/internal/http/middleware"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *middleware.AuthMiddleware
	MovieHandler   *handlers.MovieHandler
	CreditsHandler *handlers.CreditsHandler
	CORSOrigins    []string
	ServiceName    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.RequestContext())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(otelgin.Middleware(cfg.ServiceName))

	router.GET("/healthz", handlers.Health)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/movies", cfg.MovieHandler.Create)
		api.GET("/movies", cfg.MovieHandler.List)
		api.GET("/movies/:id", cfg.MovieHandler.Get)
		api.POST("/movies/:id/cancel", cfg.MovieHandler.Cancel)
		api.POST("/movies/:id/stages/:stageID/retry", cfg.MovieHandler.RetryStage)
		api.GET("/credits", cfg.CreditsHandler.Balance)
	}

	return router
}
