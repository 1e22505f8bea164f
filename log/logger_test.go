package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"
)

func TestLoggerWritesLevelsAndContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	l.Trace("trace msg", "key", "val")
	l.Debug("debug msg")
	l.Info("info msg", "n", 42)

	out := buf.String()
	assert.True(t, strings.Contains(out, "trace msg"))
	assert.True(t, strings.Contains(out, "key=val"))
	assert.True(t, strings.Contains(out, "debug msg"))
	assert.True(t, strings.Contains(out, "n=42"))
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewTextHandler(&buf, nil)).With("pass", "propagate_control_flow")

	l.Info("done")
	assert.True(t, strings.Contains(buf.String(), "pass=propagate_control_flow"))
}

func TestSetDefault(t *testing.T) {
	old := Root()
	defer SetDefault(old)

	var buf bytes.Buffer
	SetDefault(NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	Debug("routed through root")
	assert.True(t, strings.Contains(buf.String(), "routed through root"))
}
