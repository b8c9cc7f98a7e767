package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// GHProvider reads pull request state through the gh CLI.
type GHProvider struct {
	binary string
	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewGHProvider(binary string) *GHProvider {
	if binary == "" {
		binary = "gh"
	}
	return &GHProvider{binary: binary, execCommand: exec.CommandContext}
}

// ghPullRequest mirrors the JSON output of `gh pr view --json state,mergedAt`.
type ghPullRequest struct {
	State    string `json:"state"`
	MergedAt string `json:"mergedAt"`
}

func (p *GHProvider) Status(ctx context.Context, ref string) (State, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("gh pr view: empty reference")
	}
	cmd := p.execCommand(ctx, p.binary, "pr", "view", ref, "--json", "state,mergedAt")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh pr view %s: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
	}

	var pr ghPullRequest
	if err := json.Unmarshal(stdout.Bytes(), &pr); err != nil {
		return "", fmt.Errorf("parse gh output for %s: %w", ref, err)
	}
	return parseGHState(pr)
}

func parseGHState(pr ghPullRequest) (State, error) {
	if pr.MergedAt != "" {
		return StateMerged, nil
	}
	switch strings.ToUpper(pr.State) {
	case "MERGED":
		return StateMerged, nil
	case "CLOSED":
		return StateClosed, nil
	case "OPEN":
		return StateOpen, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownState, pr.State)
	}
}
