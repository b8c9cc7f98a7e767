// Package notify sends desktop notifications when a run needs attention.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/msageha/migrun/internal/events"
	"github.com/msageha/migrun/internal/logging"
)

// Notifier posts macOS notifications through osascript.
type Notifier struct {
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	logger      *logging.Logger
}

func NewNotifier(logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Notifier{execCommand: exec.CommandContext, logger: logger}
}

// Send posts a notification with sound.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(
		`display notification "%s" with title "%s" sound name "default"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)
	cmd := n.execCommand(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Attach notifies on the events an operator has to act on: a finished run,
// a stall and an await timeout.
func (n *Notifier) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(func(e events.Event) {
		title, message, ok := describe(e)
		if !ok {
			return
		}
		if err := n.Send(context.Background(), title, message); err != nil {
			n.logger.Warn("notify_failed event=%s: %v", e.Type, err)
		}
	})
}

func describe(e events.Event) (title, message string, ok bool) {
	switch e.Type {
	case events.EventRunFinished:
		return "migrun: run finished", fmt.Sprintf("outcome %v after %v iterations", e.Data["outcome"], e.Data["iterations"]), true
	case events.EventStalled:
		return "migrun: stalled", fmt.Sprintf("%v tasks cannot make progress", e.Data["blocked"]), true
	case events.EventAwaitTimeout:
		return "migrun: review timeout", fmt.Sprintf("still open: %v", e.Data["unresolved"]), true
	default:
		return "", "", false
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
