package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/api/middleware"
	"github.com/infrapilot/infrapilot/internal/inference"
	"github.com/infrapilot/infrapilot/internal/service"
)

// RouterConfig holds configuration for the gateway router
type RouterConfig struct {
	ModelName    string
	DefaultTopK  int
	AllowOrigins []string
}

// SetupRouter sets up the gateway's Gin router
func SetupRouter(
	chatService *service.ChatService,
	store RAGStore,
	fileService *service.FileService,
	llm inference.Client,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/health", func(c *gin.Context) {
		backendUp := llm.Healthy(c.Request.Context())
		status := "healthy"
		if !backendUp {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            status,
			"backend_connected": backendUp,
			"rag_initialized":   store != nil,
		})
	})

	v1 := r.Group("/v1")

	chatHandler := NewChatHandler(chatService, llm, cfg.ModelName)
	chatHandler.RegisterRoutes(v1)

	ragHandler := NewRAGHandler(store, chatService, cfg.DefaultTopK)
	ragHandler.RegisterRoutes(v1.Group("/rag"))

	filesHandler := NewFilesHandler(fileService)
	filesHandler.RegisterRoutes(v1.Group("/files"))

	return r
}
