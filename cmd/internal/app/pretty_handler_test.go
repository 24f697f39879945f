package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chirp/cmd/internal/auth/session"
)

func newTestPretty(buf *bytes.Buffer, color bool) *slog.Logger {
	return slog.New(newPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}, color))
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":          `""`,
		"plain":     "plain",
		"two words": `"two words"`,
		"k=v":       `"k=v"`,
	}
	for in, want := range cases {
		require.Equal(t, want, quoteIfNeeded(in), "input %q", in)
	}
}

func TestPrettyHandler_RequestHeadline(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	newTestPretty(&buf, false).Info("http.request",
		"request_id", "7c1e44a0f2b34e1d",
		"method", "post",
		"path", "/auth/login",
		"status", 401,
		"status_class", "4xx",
		"result", "client_error",
		"duration_ms", int64(12),
		"remote", "10.0.0.7",
	)

	out := buf.String()
	require.Contains(t, out, "[INFO] POST   /auth/login 401 12ms req=7c1e44a0..")
	require.Contains(t, out, "remote=10.0.0.7")
	require.NotContains(t, out, "status_class")
	require.NotContains(t, out, "result=")
	require.NotContains(t, out, "http.request")
}

func TestPrettyHandler_SecurityEventsAreTagged(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want string
	}{
		{"auth.refresh.reuse_detected", "auth.refresh.reuse_detected [REUSE]"},
		{"auth.guard.reject", "auth.guard.reject [GUARD]"},
		{"auth.revoke_all", "auth.revoke_all [REVOKE]"},
		{"auth.refresh.rotate", "auth.refresh.rotate user_id=u1"},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			newTestPretty(&buf, false).Warn(tc.msg, "user_id", "u1")
			require.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestPrettyHandler_ReuseEventColorsAndElidesHash(t *testing.T) {
	t.Parallel()

	hash := session.TokenHash(strings.Repeat("3fa9c2d1", 8))

	var buf bytes.Buffer
	newTestPretty(&buf, true).Warn("auth.refresh.reuse_detected",
		"family_id", "01J9ZQ3V8K",
		"token_hash", hash,
	)

	out := buf.String()
	require.Contains(t, out, ansiRed+"[REUSE]"+ansiReset)
	require.Contains(t, out, "=3fa9c2d1..")
	require.NotContains(t, out, string(hash[:12]))
}

func TestPrettyHandler_GroupsAndBoundAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newTestPretty(&buf, false).With("component", "ws").WithGroup("hub").With("conns", 3)
	log.Info("ws.broadcast", slog.Group("msg", "size", 42))

	require.Contains(t, buf.String(), "ws.broadcast component=ws hub.conns=3 hub.msg.size=42")
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("dropped")
	log.Error("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "[ERROR] kept")
}

func TestFormatValue_Colors(t *testing.T) {
	t.Parallel()

	h := &prettyHandler{color: true}
	require.Equal(t, ansiRed+"503"+ansiReset, h.formatValue("status", slog.IntValue(503)))
	require.Equal(t, ansiYellow+"300ms"+ansiReset, h.formatValue("duration_ms", slog.Int64Value(300)))

	h.color = false
	require.Equal(t, "503", h.formatValue("status", slog.IntValue(503)))
	require.Equal(t, `"db down"`, h.formatValue("err", slog.StringValue("db down")))
}
