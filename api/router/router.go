package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/consoleprov/consoleprov/api/handler"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/service"
	"github.com/consoleprov/consoleprov/pkg/logger"
	"github.com/consoleprov/consoleprov/pkg/metrics"
)

// Deps 路由依赖，Metrics 为空时不暴露 /metrics
type Deps struct {
	Provision *service.ProvisionService
	Runs      *database.RunStore
	Metrics   *metrics.Collector
	Mode      string
}

// SetupRouter 设置路由
func SetupRouter(d Deps) *gin.Engine {
	mode := d.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	provisionHandler := handler.NewProvisionHandler(d.Provision)
	runHandler := handler.NewRunHandler(d.Runs)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "consoleprov",
			"status": "running",
		})
	})

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handler.Health)

		provision := v1.Group("/provision")
		{
			provision.POST("/install", provisionHandler.Install)
			provision.POST("/configure", provisionHandler.Configure)
			provision.POST("/batch", provisionHandler.Batch)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", runHandler.List)
			runs.GET("/:id", runHandler.Get)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handler.ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "接口不存在: " + c.Request.URL.Path,
		})
	})

	return r
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusBadRequest {
			entry.Warn("HTTP Error")
			return
		}
		entry.Debug("HTTP Request")
	}
}
