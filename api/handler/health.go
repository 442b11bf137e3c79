package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consoleprov/consoleprov/addone/dialogue"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/pkg/cache"
)

// Health GET /api/v1/health
func Health(c *gin.Context) {
	status := map[string]interface{}{
		"database":  "ok",
		"platforms": dialogue.Names(),
	}
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: "database: " + err.Error()})
		return
	}
	if cache.GetRedis() != nil {
		if err := cache.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: "redis: " + err.Error()})
			return
		}
		status["redis"] = "ok"
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: status})
}
