package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/dfsselect/internal/fs"
)

// BatchHandler serves batch selections and checkpoint commits.
type BatchHandler struct {
	src *Source
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(src *Source) *BatchHandler {
	return &BatchHandler{src: src}
}

// CommitRequest is the body of POST /api/checkpoint.
type CommitRequest struct {
	Checkpoint string `json:"checkpoint" binding:"required"`
}

// checkpointQuery returns the checkpoint query parameter, or nil when absent.
func checkpointQuery(c *gin.Context) *string {
	if v, ok := c.GetQuery("checkpoint"); ok {
		return &v
	}
	return nil
}

// GetBatch selects the next batch.
// Query: checkpoint (default: committed checkpoint), limit (default: source_limit).
func (h *BatchHandler) GetBatch(c *gin.Context) {
	var limit *int64
	if raw, ok := c.GetQuery("limit"); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = &v
	}

	res, err := h.src.Select(c.Request.Context(), checkpointQuery(c), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	if res.Files == nil {
		res.Files = []fs.FileStatus{}
	}
	c.JSON(http.StatusOK, res)
}

// GetCheckpoint returns the committed checkpoint of the source.
func (h *BatchHandler) GetCheckpoint(c *gin.Context) {
	cp, err := h.src.Checkpoint(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":     h.src.Config().Source,
		"checkpoint": cp,
	})
}

// CommitCheckpoint records a checkpoint once the caller has ingested a batch.
func (h *BatchHandler) CommitCheckpoint(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if err := h.src.Commit(c.Request.Context(), req.Checkpoint); err != nil {
		_ = c.Error(err)
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":     h.src.Config().Source,
		"checkpoint": req.Checkpoint,
	})
}

// GetCheckpoints lists every committed checkpoint in the store.
func (h *BatchHandler) GetCheckpoints(c *gin.Context) {
	entries, err := h.src.Checkpoints(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": entries})
}
