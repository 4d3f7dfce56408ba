package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/CageChen/dfsselect/internal/config"
)

func startWatcher(t *testing.T, path string) (*Watcher, chan *config.Config, chan error) {
	t.Helper()
	w, err := New(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	reloaded := make(chan *config.Config, 4)
	failed := make(chan error, 4)
	w.OnChange(func(c *config.Config) { reloaded <- c })
	w.OnError(func(err error) { failed <- err })

	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w, reloaded, failed
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dfsselect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: "+dir+"\nsource_limit: 100\n"), 0o644))

	_, reloaded, _ := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("root: "+dir+"\nsource_limit: 500\nignore_prefixes: [\"~\"]\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, int64(500), cfg.SourceLimit)
		assert.Equal(t, []string{"~"}, cfg.IgnorePrefixes)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcher_InvalidConfigReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dfsselect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: "+dir+"\n"), 0o644))

	_, reloaded, failed := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("root: "+dir+"\nsource_limit: -1\n"), 0o644))

	select {
	case err := <-failed:
		assert.Contains(t, err.Error(), "source_limit")
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload: %+v", cfg)
	case <-time.After(5 * time.Second):
		t.Fatal("reload error was not reported")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dfsselect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: "+dir+"\n"), 0o644))

	_, reloaded, failed := startWatcher(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("reloaded for an unrelated file")
	case <-failed:
		t.Fatal("reload attempted for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dfsselect.yaml")
	w, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)
}
