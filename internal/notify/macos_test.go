package notify

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/migrun/internal/events"
)

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{`say "hello"`, `say \"hello\"`},
		{`path\to\file`, `path\\to\\file`},
		{`"quote" and \backslash`, `\"quote\" and \\backslash`},
		{"", ""},
	}
	for _, tt := range tests {
		got := escapeAppleScript(tt.input)
		if got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	scripts []string
	exit    string
}

func (r *recorder) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.mu.Lock()
	r.scripts = append(r.scripts, args[len(args)-1])
	r.mu.Unlock()
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess", "--", name)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "NOTIFY_FAKE_EXIT="+r.exit)
	return cmd
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if os.Getenv("NOTIFY_FAKE_EXIT") == "1" {
		os.Stderr.WriteString("execution error")
		os.Exit(1)
	}
	os.Exit(0)
}

func TestSend_EscapesScript(t *testing.T) {
	r := &recorder{exit: "0"}
	n := NewNotifier(nil)
	n.execCommand = r.command

	require.NoError(t, n.Send(context.Background(), `Run "7"`, `path\to`))
	assert.Equal(t, []string{
		`display notification "path\\to" with title "Run \"7\"" sound name "default"`,
	}, r.sent())
}

func TestSend_CommandFailure(t *testing.T) {
	r := &recorder{exit: "1"}
	n := NewNotifier(nil)
	n.execCommand = r.command

	err := n.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "osascript")
	assert.Contains(t, err.Error(), "execution error")
}

func TestAttach_NotifiesOnTerminalEvents(t *testing.T) {
	r := &recorder{exit: "0"}
	n := NewNotifier(nil)
	n.execCommand = r.command

	bus := events.NewBus(10)
	n.Attach(bus)
	bus.Publish(events.EventBatchSelected, map[string]any{"iteration": 1})
	bus.Publish(events.EventRunFinished, map[string]any{"outcome": "complete", "iterations": 3})
	bus.Close()

	sent := r.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "outcome complete after 3 iterations")
}
