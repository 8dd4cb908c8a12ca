package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(level slog.Level, msg string, args ...any) slog.Record {
	r := slog.NewRecord(time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC), level, msg, 0)
	r.Add(args...)
	return r
}

func TestCompactHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	h := NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	require.NoError(t, h.Handle(context.Background(), record(slog.LevelInfo, "loaded dataset",
		"path", "my data.csv", "comparisons", 12, "durationMs", int64(7))))

	assert.Equal(t, "[INFO]  12:34:56 loaded dataset | path=\"my data.csv\" comparisons=12 duration=7ms\n", buf.String())
}

func TestCompactHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	var h slog.Handler = NewCompactHandler(&buf, nil)
	h = h.WithAttrs([]slog.Attr{slog.String("component", "runner")})
	h = h.WithGroup("ranking").WithAttrs([]slog.Attr{slog.Int("iterations", 1000)})

	require.NoError(t, h.Handle(context.Background(), record(slog.LevelWarn, "uncertain", "gap", 2.5)))

	assert.Equal(t, "[WARN]  12:34:56 uncertain | component=runner ranking.iterations=1000 ranking.gap=2.5\n", buf.String())
}

func TestCompactHandler_ShortensIDs(t *testing.T) {
	var buf bytes.Buffer
	h := NewCompactHandler(&buf, nil)

	require.NoError(t, h.Handle(context.Background(), record(slog.LevelError, "failed",
		"runID", "0123456789abcdef", "requestID", "fedcba9876543210")))

	assert.Contains(t, buf.String(), "run=01234567")
	assert.Contains(t, buf.String(), "req=fedcba98")
}

func TestCompactHandler_Enabled(t *testing.T) {
	h := NewCompactHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, LevelFromVerbosity(0))
	assert.Equal(t, slog.LevelDebug, LevelFromVerbosity(1))
	assert.Equal(t, LevelTrace, LevelFromVerbosity(3))
}

func TestPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})
	SetLevel(slog.LevelDebug)
	defer SetLevel(slog.LevelInfo)

	ctx := WithRequestID(context.Background(), "abcdef0123456789")
	DebugContext(ctx, "handling")
	New("web").Info("listening", "port", 8080)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[DEBUG]")
	assert.Contains(t, lines[0], "req=abcdef01")
	assert.Contains(t, lines[1], "component=web port=8080")
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		http.Error(w, "nope", http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/report", nil)
	req.Header.Set(RequestIDHeader, "client-request-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "client-request-1", seen)
	assert.Equal(t, "client-request-1", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), "[WARN]")
	assert.Contains(t, buf.String(), "req=client-r")
	assert.Contains(t, buf.String(), "status=404")
	assert.Contains(t, buf.String(), "bytes=5")

	// without a client ID a fresh one is generated
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}
