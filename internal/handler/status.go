package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/dfsselect/internal/report"
)

// StatusHandler renders the status page.
type StatusHandler struct {
	src      *Source
	renderer *report.Renderer
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(src *Source) *StatusHandler {
	return &StatusHandler{
		src:      src,
		renderer: report.NewRenderer(),
	}
}

// GetStatus serves the status page as HTML, or as Markdown with ?format=markdown.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	st := h.src.Status(c.Request.Context())

	if c.Query("format") == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", report.Markdown(st))
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.renderer.WritePage(c.Writer, st); err != nil {
		_ = c.Error(err)
	}
}

// Healthz reports liveness.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
