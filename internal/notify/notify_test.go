package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConsoleNotifier(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	n := NewConsoleNotifier(&buf)
	n.Notify(context.Background(), Notification{Title: "Prompt generated", Severity: SeveritySuccess})
	n.Notify(context.Background(), Notification{Title: "Generation failed", Description: "timed out", Severity: SeverityError})

	out := buf.String()
	assert.Contains(t, out, "✓ Prompt generated")
	assert.Contains(t, out, "✗ Generation failed\n  timed out")
}

func TestLogNotifierLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLogNotifier(zap.New(core))

	n.Notify(context.Background(), Notification{Title: "ok", Severity: SeveritySuccess})
	n.Notify(context.Background(), Notification{Title: "careful", Severity: SeverityWarning, PromptID: "p-1"})
	n.Notify(context.Background(), Notification{Title: "broken", Severity: SeverityError})

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "p-1", entries[1].ContextMap()["prompt_id"])
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b, Nop{}}.Notify(context.Background(), Notification{Title: "x", Severity: SeverityError})

	assert.Len(t, a.Sent(), 1)
	assert.Equal(t, 1, b.Count(SeverityError))
	assert.Equal(t, 0, b.Count(SeveritySuccess))
}
