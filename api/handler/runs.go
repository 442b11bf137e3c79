package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/model"
)

// RunHandler 会话记录查询
type RunHandler struct {
	store *database.RunStore
}

// NewRunHandler 创建处理器
func NewRunHandler(store *database.RunStore) *RunHandler {
	return &RunHandler{store: store}
}

// RunListResponse 列表响应
type RunListResponse struct {
	Total int64                `json:"total"`
	Runs  []model.ProvisionRun `json:"runs"`
}

// RunDetailResponse 详情响应
type RunDetailResponse struct {
	Run        *model.ProvisionRun     `json:"run"`
	Transcript []model.TranscriptEntry `json:"transcript,omitempty"`
}

// List GET /api/v1/runs
func (h *RunHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	runs, total, err := h.store.List(database.RunFilter{
		BatchID: c.Query("batch_id"),
		NodeID:  c.Query("node_id"),
		Status:  c.Query("status"),
		Kind:    c.Query("kind"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	if runs == nil {
		runs = []model.ProvisionRun{}
	}
	c.JSON(http.StatusOK, RunListResponse{Total: total, Runs: runs})
}

// Get GET /api/v1/runs/:id，transcript=true 时附带收发记录
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.store.Get(c.Param("id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "RUN_NOT_FOUND", Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	resp := RunDetailResponse{Run: run}
	if c.Query("transcript") == "true" {
		entries, err := h.store.Transcript(run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
			return
		}
		resp.Transcript = entries
	}
	c.JSON(http.StatusOK, resp)
}
