package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// eventTag marks session-security events so they stand out in a scrolling
// terminal.
type eventTag struct {
	label string
	color string
}

var securityEvents = map[string]eventTag{
	"auth.refresh.reuse_detected": {"REUSE", ansiRed},
	"auth.guard.reject":           {"GUARD", ansiYellow},
	"auth.revoke_all":             {"REVOKE", ansiMagenta},
	"auth.refresh.stale":          {"STALE", ansiCyan},
	"ws.session_revoked":          {"KICK", ansiMagenta},
}

// requestHeadKeys are folded into the http.request headline.
var requestHeadKeys = map[string]bool{
	"method":       true,
	"path":         true,
	"status":       true,
	"duration_ms":  true,
	"request_id":   true,
	"status_class": true,
	"result":       true,
}

// elidedKeys carry identifiers that are only useful as a prefix.
var elidedKeys = map[string]int{
	"token_hash": 8,
	"request_id": 8,
}

// prettyHandler writes one line per record for a developer terminal:
//
//	10:04:05.120 [WARN] auth.refresh.reuse_detected [REUSE] user_id=01J... token_hash=3fa9c2d1..
//	10:04:05.180 [INFO] POST   /auth/refresh 409 3ms req=7c1e44a0..
type prettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	source bool
	color  bool
	prefix string // open groups, "a.b."
	bound  []byte // WithAttrs output, rendered once
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.level = opts.Level
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return level >= slog.LevelInfo
	}
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, h.paint(ts.Format("15:04:05.000"), ansiDim)...)
	buf = append(buf, ' ')
	buf = append(buf, h.levelLabel(r.Level)...)
	buf = append(buf, ' ')

	var rest []slog.Attr
	if r.Message == "http.request" && h.prefix == "" {
		buf, rest = h.appendRequestHeadline(buf, r)
	} else {
		buf = h.appendMessage(buf, r.Message)
		rest = make([]slog.Attr, 0, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			rest = append(rest, a)
			return true
		})
	}

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			buf = append(buf, ' ')
			buf = append(buf, h.paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), ansiDim)...)
		}
	}

	buf = append(buf, h.bound...)
	for _, a := range rest {
		buf = h.appendAttr(buf, h.prefix, a)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.bound = append([]byte(nil), h.bound...)
	for _, a := range attrs {
		cp.bound = cp.appendAttr(cp.bound, cp.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendMessage(buf []byte, msg string) []byte {
	tag, ok := securityEvents[msg]
	if !ok {
		return append(buf, h.paint(msg, ansiBright)...)
	}
	buf = append(buf, h.paint(msg, ansiBright+tag.color)...)
	buf = append(buf, ' ')
	return append(buf, h.paint("["+tag.label+"]", tag.color)...)
}

// appendRequestHeadline renders the access-log record as
// "METHOD path status duration req=id" and returns the attrs left over.
func (h *prettyHandler) appendRequestHeadline(buf []byte, r slog.Record) ([]byte, []slog.Attr) {
	head := make(map[string]slog.Value, len(requestHeadKeys))
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if requestHeadKeys[a.Key] {
			head[a.Key] = a.Value.Resolve()
		} else {
			rest = append(rest, a)
		}
		return true
	})

	text := func(k string) string {
		if v, ok := head[k]; ok {
			return valueText(v)
		}
		return "-"
	}

	method := strings.ToUpper(text("method"))
	buf = append(buf, h.paint(fmt.Sprintf("%-6s", method), methodColor(method))...)
	buf = append(buf, ' ')
	buf = append(buf, h.paint(text("path"), ansiCyan)...)

	if v, ok := head["status"]; ok {
		buf = append(buf, ' ')
		buf = append(buf, h.formatValue("status", v)...)
	}
	if v, ok := head["duration_ms"]; ok {
		buf = append(buf, ' ')
		buf = append(buf, h.formatValue("duration_ms", v)...)
	}
	if v, ok := head["request_id"]; ok && valueText(v) != "" {
		buf = append(buf, " req="...)
		buf = append(buf, h.formatValue("request_id", v)...)
	}
	return buf, rest
}

func (h *prettyHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, inner, ga)
		}
		return buf
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return buf
	}
	display := key
	if key == "duration_ms" {
		display = "duration"
	}

	buf = append(buf, ' ')
	buf = append(buf, h.paint(prefix+display, ansiDim)...)
	buf = append(buf, '=')
	return append(buf, h.formatValue(key, a.Value)...)
}

func (h *prettyHandler) formatValue(key string, v slog.Value) string {
	if n, ok := elidedKeys[key]; ok {
		return elide(valueText(v), n)
	}

	switch key {
	case "status":
		if n, ok := valueToInt64(v); ok {
			return h.paint(strconv.FormatInt(n, 10), statusColor(int(n)))
		}
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return h.paint(strconv.FormatInt(n, 10)+"ms", durationColor(n))
		}
	case "err":
		return h.paint(quoteIfNeeded(valueText(v)), ansiRed)
	}
	return quoteIfNeeded(valueText(v))
}

func (h *prettyHandler) levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint("[ERROR]", ansiRed)
	case level >= slog.LevelWarn:
		return h.paint("[WARN]", ansiYellow)
	case level >= slog.LevelInfo:
		return h.paint("[INFO]", ansiBlue)
	default:
		return h.paint("[DEBUG]", ansiMagenta)
	}
}

func (h *prettyHandler) paint(s, code string) string {
	if !h.color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func valueText(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func elide(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + ".."
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func methodColor(m string) string {
	switch m {
	case "GET":
		return ansiGreen
	case "POST":
		return ansiBlue
	case "DELETE":
		return ansiRed
	default:
		return ansiMagenta
	}
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func durationColor(ms int64) string {
	switch {
	case ms >= 1000:
		return ansiRed
	case ms >= 250:
		return ansiYellow
	default:
		return ansiDim
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}
