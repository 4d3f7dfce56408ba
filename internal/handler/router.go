package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/logging"
	"github.com/CageChen/dfsselect/internal/metrics"
)

// Router bundles the gin engine with the handlers that hold connections.
type Router struct {
	*gin.Engine
	WS *WSHandler
}

// NewRouter wires every route for src.
func NewRouter(src *Source, m *metrics.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	batchHandler := NewBatchHandler(src)
	treeHandler := NewTreeHandler(src)
	statusHandler := NewStatusHandler(src)
	wsHandler := NewWSHandler(src, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(logger))
	if m != nil {
		r.Use(m.Middleware())
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/batch", batchHandler.GetBatch)
		api.GET("/checkpoint", batchHandler.GetCheckpoint)
		api.POST("/checkpoint", batchHandler.CommitCheckpoint)
		api.GET("/checkpoints", batchHandler.GetCheckpoints)
		api.GET("/tree", treeHandler.GetTree)
		api.GET("/ws", wsHandler.HandleWS)
	}

	r.GET("/status", statusHandler.GetStatus)
	r.GET("/healthz", Healthz)

	return &Router{Engine: r, WS: wsHandler}
}
