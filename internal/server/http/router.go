package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"murmur/internal/logging"
	"murmur/internal/server/app"
	"murmur/internal/storage/blobstore"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
}

// NewRouter creates the gin engine with all endpoints.
func NewRouter(service *app.MediaService, store *blobstore.FilesystemStore, logger logging.Logger, cfg RouterConfig) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	engine.Use(cors.New(corsConfig))

	apiHandler := NewAPIHandler(service, logger)
	storageHandler := NewStorageHandler(store, logger)

	engine.GET("/health", apiHandler.HandleHealth)

	api := engine.Group("/api/v1")
	{
		api.POST("/uploads", apiHandler.HandleIssueGrant)
		api.POST("/recordings", apiHandler.HandleSubmitRecording)
		api.GET("/tasks/:id", apiHandler.HandlePollTask)
	}

	storage := engine.Group("/storage")
	{
		storage.PUT("/*key", storageHandler.HandlePut)
		storage.GET("/*key", storageHandler.HandleGet)
	}

	return engine
}
