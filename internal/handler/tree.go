package handler

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/dfsselect/internal/selector"
)

// TreeNode is one directory entry annotated with the selector's decision.
type TreeNode struct {
	Name      string           `json:"name"`
	Type      string           `json:"type"`
	Path      string           `json:"path"`
	Size      int64            `json:"size,omitempty"`
	ModTime   int64            `json:"modTime,omitempty"`
	IsSymlink bool             `json:"isSymlink,omitempty"`
	Verdict   selector.Verdict `json:"verdict"`
}

// TreeResponse is the listing of one directory.
type TreeResponse struct {
	Path    string                   `json:"path"`
	Entries []TreeNode               `json:"entries"`
	Summary map[selector.Verdict]int `json:"summary"`
}

// TreeHandler explains how the selector treats the entries of a directory.
type TreeHandler struct {
	src *Source
}

// NewTreeHandler creates a new tree handler
func NewTreeHandler(src *Source) *TreeHandler {
	return &TreeHandler{src: src}
}

// GetTree lists one directory (query: path, default the root) and classifies
// every entry against checkpoint (default: committed checkpoint).
func (h *TreeHandler) GetTree(c *gin.Context) {
	ctx := c.Request.Context()

	cp := checkpointQuery(c)
	if cp == nil {
		stored, err := h.src.Checkpoint(ctx)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		cp = stored
	}

	dir := c.Query("path")
	entries, err := h.src.Explain(ctx, dir, cp)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	if dir == "" {
		dir = h.src.Root()
	}

	resp := TreeResponse{
		Path:    dir,
		Entries: make([]TreeNode, 0, len(entries)),
		Summary: map[selector.Verdict]int{},
	}
	for _, e := range entries {
		nodeType := "file"
		if e.IsDir {
			nodeType = "dir"
		}
		resp.Entries = append(resp.Entries, TreeNode{
			Name:      e.Name,
			Type:      nodeType,
			Path:      e.Path,
			Size:      e.Size,
			ModTime:   e.ModTime,
			IsSymlink: e.IsSymlink,
			Verdict:   e.Verdict,
		})
		resp.Summary[e.Verdict]++
	}

	// Directories first, then files, each alphabetically
	sort.Slice(resp.Entries, func(i, j int) bool {
		if resp.Entries[i].Type != resp.Entries[j].Type {
			return resp.Entries[i].Type == "dir"
		}
		return resp.Entries[i].Name < resp.Entries[j].Name
	})

	c.JSON(http.StatusOK, resp)
}
