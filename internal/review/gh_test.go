package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGH runs this test binary as a stand-in for gh, printing stdout and
// exiting with code.
func fakeGH(stdout string, code int) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"GH_FAKE_STDOUT="+stdout,
			fmt.Sprintf("GH_FAKE_EXIT=%d", code),
		)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("GH_FAKE_STDOUT"))
	if os.Getenv("GH_FAKE_EXIT") != "0" {
		fmt.Fprint(os.Stderr, "no pull requests found")
		os.Exit(1)
	}
	os.Exit(0)
}

func TestGHProvider_Status(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   State
	}{
		{"open", `{"state":"OPEN","mergedAt":""}`, StateOpen},
		{"merged", `{"state":"MERGED","mergedAt":"2026-01-02T03:04:05Z"}`, StateMerged},
		{"closed", `{"state":"CLOSED","mergedAt":""}`, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewGHProvider("")
			p.execCommand = fakeGH(tt.stdout, 0)

			got, err := p.Status(context.Background(), "https://github.com/acme/target/pull/7")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGHProvider_CommandFailure(t *testing.T) {
	p := NewGHProvider("gh")
	p.execCommand = fakeGH("", 1)

	_, err := p.Status(context.Background(), "https://github.com/acme/target/pull/404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pull requests found")
}

func TestGHProvider_UnknownState(t *testing.T) {
	p := NewGHProvider("gh")
	p.execCommand = fakeGH(`{"state":"DRAFTED"}`, 0)

	_, err := p.Status(context.Background(), "https://github.com/acme/target/pull/7")
	assert.True(t, errors.Is(err, ErrUnknownState))
}

func TestGHProvider_EmptyRef(t *testing.T) {
	_, err := NewGHProvider("gh").Status(context.Background(), " ")
	assert.Error(t, err)
}

func TestParseGHState_MergedAtWins(t *testing.T) {
	st, err := parseGHState(ghPullRequest{State: "CLOSED", MergedAt: "2026-01-02T03:04:05Z"})
	require.NoError(t, err)
	assert.Equal(t, StateMerged, st)
}
