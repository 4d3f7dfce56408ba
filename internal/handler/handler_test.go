package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/CageChen/dfsselect/internal/checkpoint"
	"github.com/CageChen/dfsselect/internal/config"
	"github.com/CageChen/dfsselect/internal/fs"
	"github.com/CageChen/dfsselect/internal/metrics"
	"github.com/CageChen/dfsselect/internal/selector"
)

type fixture struct {
	root   string
	cfg    *config.Config
	src    *Source
	router *Router
}

func writeFile(t *testing.T, path string, size int, modMillis int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644))
	mod := time.UnixMilli(modMillis)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func newFixture(t *testing.T, newFS FilesystemFactory) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), 100, 10_000)
	writeFile(t, filepath.Join(root, "b"), 100, 20_000)
	writeFile(t, filepath.Join(root, "nested", "c"), 100, 30_000)
	writeFile(t, filepath.Join(root, "_SUCCESS"), 0, 40_000)

	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.SourceLimit = 250
	cfg.Checkpoint.Path = filepath.Join(t.TempDir(), "checkpoints.yaml")
	cfg.Normalize()
	require.NoError(t, cfg.Validate())

	store, err := checkpoint.OpenFile(cfg.Checkpoint.Path)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())
	src, err := NewSource(context.Background(), cfg, store, m, newFS, logger)
	require.NoError(t, err)

	return &fixture{
		root:   cfg.Root,
		cfg:    cfg,
		src:    src,
		router: NewRouter(src, m, logger),
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeSelection(t *testing.T, w *httptest.ResponseRecorder) selector.Selection {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sel selector.Selection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sel))
	return sel
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.root, rel)
}

func TestGetBatch(t *testing.T) {
	f := newFixture(t, nil)

	sel := decodeSelection(t, f.do(t, http.MethodGet, "/api/batch", nil))
	require.NotNil(t, sel.Paths)
	assert.Equal(t, f.path("a")+","+f.path("b"), *sel.Paths)
	assert.Equal(t, "20000", sel.Checkpoint)
	assert.Len(t, sel.Files, 2)
	assert.Equal(t, 1, sel.Stats.Ignored)

	sel = decodeSelection(t, f.do(t, http.MethodGet, "/api/batch?checkpoint=20000", nil))
	require.NotNil(t, sel.Paths)
	assert.Equal(t, f.path("nested/c"), *sel.Paths)
	assert.Equal(t, "30000", sel.Checkpoint)

	sel = decodeSelection(t, f.do(t, http.MethodGet, "/api/batch?checkpoint=30000", nil))
	assert.Nil(t, sel.Paths)
	assert.NotNil(t, sel.Files)
	assert.Equal(t, "30000", sel.Checkpoint)

	sel = decodeSelection(t, f.do(t, http.MethodGet, "/api/batch?limit=1000", nil))
	assert.Len(t, sel.Files, 3)
}

func TestGetBatch_BadInput(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/batch?checkpoint=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid checkpoint")

	w = f.do(t, http.MethodGet, "/api/batch?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type failingFS struct{ fs.FileSystem }

func (failingFS) ListDir(context.Context, string) ([]fs.FileStatus, error) {
	return nil, errors.New("connection reset")
}

func TestGetBatch_IOError(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, cfg *config.Config) (fs.FileSystem, error) {
		local, err := DefaultFilesystemFactory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return failingFS{local}, nil
	})

	w := f.do(t, http.MethodGet, "/api/batch?checkpoint=5", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "unable to read from source from checkpoint 5")

	st := f.src.Status(context.Background())
	assert.Contains(t, st.LastError, "connection reset")
}

func TestCheckpointLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/checkpoint", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"source":"`+f.root+`","checkpoint":null}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/checkpoint", CommitRequest{Checkpoint: "20000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// the committed checkpoint is used when none is given
	sel := decodeSelection(t, f.do(t, http.MethodGet, "/api/batch", nil))
	require.NotNil(t, sel.Paths)
	assert.Equal(t, f.path("nested/c"), *sel.Paths)

	w = f.do(t, http.MethodPost, "/api/checkpoint", CommitRequest{Checkpoint: "10000"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/checkpoint", CommitRequest{Checkpoint: "later"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/checkpoint", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/checkpoint", nil)
	assert.JSONEq(t, `{"source":"`+f.root+`","checkpoint":"20000"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/checkpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"checkpoint":"20000"`)
}

func TestGetTree(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/tree?checkpoint=15000", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TreeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, f.root, resp.Path)
	require.Len(t, resp.Entries, 4)
	assert.Equal(t, "nested", resp.Entries[0].Name)
	assert.Equal(t, selector.VerdictDir, resp.Entries[0].Verdict)

	verdicts := map[string]selector.Verdict{}
	for _, e := range resp.Entries {
		verdicts[e.Name] = e.Verdict
	}
	assert.Equal(t, selector.VerdictIgnored, verdicts["_SUCCESS"])
	assert.Equal(t, selector.VerdictNotNewer, verdicts["a"])
	assert.Equal(t, selector.VerdictEligible, verdicts["b"])
	assert.Equal(t, 1, resp.Summary[selector.VerdictEligible])

	w = f.do(t, http.MethodGet, "/api/tree?path="+f.path("nested"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verdict":"eligible"`)

	w = f.do(t, http.MethodGet, "/api/tree?path="+f.path("missing"), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatusPage(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/batch", nil)

	w := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Last selection")
	assert.Contains(t, w.Body.String(), "20000")

	w = f.do(t, http.MethodGet, "/status?format=markdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# dfsselect: "+f.root))
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.do(t, http.MethodGet, "/api/batch", nil)
	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `dfsselect_selections_total{status="batch"} 1`)
	assert.Contains(t, w.Body.String(), `dfsselect_bytes_selected_total 200`)
}

func TestReload(t *testing.T) {
	f := newFixture(t, nil)

	next := *f.cfg
	next.SourceLimit = 1000
	next.IgnorePrefixes = []string{"."}
	f.src.Reload(&next)

	sel := decodeSelection(t, f.do(t, http.MethodGet, "/api/batch", nil))
	assert.Len(t, sel.Files, 3, "zero-length _SUCCESS is still never selected")
	assert.Equal(t, 0, sel.Stats.Ignored)

	bad := next
	bad.Exclude = []string{"[broken"}
	f.src.Reload(&bad)
	assert.Equal(t, int64(1000), f.src.Config().SourceLimit)
	assert.Empty(t, f.src.Config().Exclude)
}

func TestWebSocketPull(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type batchReply struct {
		Type    string             `json:"type"`
		Payload selector.Selection `json:"payload"`
	}

	require.NoError(t, conn.WriteJSON(WSRequest{Type: WSTypeNext}))
	var first batchReply
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, WSTypeBatch, first.Type)
	assert.Equal(t, "20000", first.Payload.Checkpoint)

	require.NoError(t, conn.WriteJSON(WSRequest{Type: WSTypeCommit, Checkpoint: &first.Payload.Checkpoint}))
	var committed WSMessage
	require.NoError(t, conn.ReadJSON(&committed))
	assert.Equal(t, WSTypeCommitted, committed.Type)

	require.NoError(t, conn.WriteJSON(WSRequest{}))
	var second batchReply
	require.NoError(t, conn.ReadJSON(&second))
	require.NotNil(t, second.Payload.Paths)
	assert.Equal(t, f.path("nested/c"), *second.Payload.Paths)

	bad := "soon"
	require.NoError(t, conn.WriteJSON(WSRequest{Checkpoint: &bad}))
	var failed struct {
		Type    string  `json:"type"`
		Payload WSError `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, WSTypeError, failed.Type)
	assert.Equal(t, http.StatusBadRequest, failed.Payload.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, WSTypeError, failed.Type)

	assert.Equal(t, 1, f.router.WS.Clients())
}
