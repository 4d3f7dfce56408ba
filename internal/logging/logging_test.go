package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dfsselect.log")

	logger, err := New(Config{Level: "warn", Format: "json", OutputPath: out})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger.Info("dropped")
	logger.Warn("kept", zap.String("root", "/data"))
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.Contains(t, string(data), `"root":"/data"`)
}

func TestNew_Console(t *testing.T) {
	out := filepath.Join(t.TempDir(), "console.log")

	logger, err := New(Config{Level: "debug", Format: "console", OutputPath: out})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger.Debug("listing")
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "listing")
	assert.False(t, strings.HasPrefix(line, "{"), "console output is not JSON")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.ErrorContains(t, err, `unknown log level "verbose"`)

	_, err = New(Config{Level: "info", Format: "xml"})
	assert.ErrorContains(t, err, `unknown log format "xml"`)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(Middleware(zap.New(core)))
	r.GET("/api/batch", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/api/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("unable to read from source"))
		c.Status(http.StatusInternalServerError)
	})

	for _, path := range []string{"/api/batch", "/api/fail"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 2)

	ok := entries[0]
	assert.Equal(t, zapcore.DebugLevel, ok.Level)
	assert.Equal(t, "request completed", ok.Message)
	fields := ok.ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/batch", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.EqualValues(t, 2, fields["size"])
	assert.NotContains(t, fields, "errors")

	failed := entries[1]
	assert.Equal(t, zapcore.ErrorLevel, failed.Level)
	fields = failed.ContextMap()
	assert.EqualValues(t, http.StatusInternalServerError, fields["status"])
	assert.Contains(t, fields["errors"], "unable to read from source")
}
