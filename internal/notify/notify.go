// Package notify delivers user-facing success and failure messages.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Severity classifies a notification
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one message shown to the user
type Notification struct {
	Title       string
	Description string
	Severity    Severity
	PromptID    string
}

// Notifier is the notification collaborator
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards notifications
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to a zap logger, used by the daemon
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) {
	fields := []zap.Field{
		zap.String("severity", string(n.Severity)),
		zap.String("description", n.Description),
	}
	if n.PromptID != "" {
		fields = append(fields, zap.String("prompt_id", n.PromptID))
	}
	switch n.Severity {
	case SeverityError:
		l.logger.Error(n.Title, fields...)
	case SeverityWarning:
		l.logger.Warn(n.Title, fields...)
	default:
		l.logger.Info(n.Title, fields...)
	}
}

// ConsoleNotifier prints colored notifications, used by CLI commands
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleNotifier creates a notifier printing to out (stdout when nil)
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

func (c *ConsoleNotifier) Notify(_ context.Context, n Notification) {
	var marker string
	switch n.Severity {
	case SeveritySuccess:
		marker = color.GreenString("✓")
	case SeverityWarning:
		marker = color.YellowString("!")
	case SeverityError:
		marker = color.RedString("✗")
	default:
		marker = color.CyanString("•")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", marker, color.New(color.Bold).Sprint(n.Title))
	if n.Description != "" {
		fmt.Fprintf(c.out, "  %s\n", n.Description)
	}
}

// Multi fans a notification out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

// Recorder keeps notifications in memory; tests use it to assert on them
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of everything recorded so far
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Count returns how many notifications with the given severity were recorded
func (r *Recorder) Count(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Severity == sev {
			n++
		}
	}
	return n
}
