package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/consoleprov/consoleprov/internal/service"
	"github.com/consoleprov/consoleprov/pkg/logger"
)

// ProvisionHandler 安装与配置接口，任务在后台执行，结果通过 /runs 查询
type ProvisionHandler struct {
	svc *service.ProvisionService
}

// NewProvisionHandler 创建处理器
func NewProvisionHandler(svc *service.ProvisionService) *ProvisionHandler {
	return &ProvisionHandler{svc: svc}
}

// BatchRequest 批量安装加配置
type BatchRequest struct {
	BatchID string            `json:"batch_id"`
	Nodes   []service.Request `json:"nodes" binding:"required,min=1"`
}

// AcceptedResponse 已受理
type AcceptedResponse struct {
	RunID   string   `json:"run_id,omitempty"`
	BatchID string   `json:"batch_id,omitempty"`
	Nodes   []string `json:"nodes,omitempty"`
}

func validateTarget(t service.Target) error {
	if t.NodeID == "" && (strings.TrimSpace(t.Host) == "" || t.Port <= 0) {
		return fmt.Errorf("node_id or host/port is required")
	}
	return nil
}

func validateScript(r service.Request) error {
	if r.ScriptContent == "" && strings.TrimSpace(r.ScriptPath) == "" {
		return fmt.Errorf("script_path or script_content is required")
	}
	return nil
}

func (h *ProvisionHandler) bind(c *gin.Context, needScript bool) (service.Request, bool) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return req, false
	}
	err := validateTarget(req.Target)
	if err == nil && needScript {
		err = validateScript(req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: err.Error()})
		return req, false
	}
	req.RunID = uuid.NewString()
	return req, true
}

// Install POST /api/v1/provision/install
func (h *ProvisionHandler) Install(c *gin.Context) {
	req, ok := h.bind(c, false)
	if !ok {
		return
	}
	h.svc.Submit(func(ctx context.Context) {
		if _, err := h.svc.Install(ctx, req); err != nil {
			logger.Warnf("install %s not started: %v", req.RunID, err)
		}
	})
	c.JSON(http.StatusAccepted, AcceptedResponse{RunID: req.RunID})
}

// Configure POST /api/v1/provision/configure
func (h *ProvisionHandler) Configure(c *gin.Context) {
	req, ok := h.bind(c, true)
	if !ok {
		return
	}
	h.svc.Submit(func(ctx context.Context) {
		if _, err := h.svc.Configure(ctx, req); err != nil {
			logger.Warnf("configure %s not started: %v", req.RunID, err)
		}
	})
	c.JSON(http.StatusAccepted, AcceptedResponse{RunID: req.RunID})
}

// Batch POST /api/v1/provision/batch
func (h *ProvisionHandler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}
	labels := make([]string, 0, len(req.Nodes))
	for i, n := range req.Nodes {
		err := validateTarget(n.Target)
		if err == nil {
			err = validateScript(n)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: fmt.Sprintf("nodes[%d]: %v", i, err)})
			return
		}
		if n.NodeID != "" {
			labels = append(labels, n.NodeID)
		} else {
			labels = append(labels, fmt.Sprintf("%s:%d", n.Host, n.Port))
		}
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}

	h.svc.Submit(func(ctx context.Context) {
		h.svc.ProvisionBatch(ctx, req.BatchID, req.Nodes)
	})
	c.JSON(http.StatusAccepted, AcceptedResponse{BatchID: req.BatchID, Nodes: labels})
}
