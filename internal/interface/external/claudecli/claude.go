package claudecli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes the claude CLI in print mode
type Runner struct {
	Bin     string
	Timeout time.Duration
	WorkDir string
}

// ClaudeResponse represents the JSON response from claude
type ClaudeResponse struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	DurationMs int     `json:"duration_ms"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	TotalCost  float64 `json:"total_cost_usd"`
	UUID       string  `json:"uuid"`
}

// RunOptions contains options for Claude Code execution
type RunOptions struct {
	Agent           string   // subagent to run the prompt with
	AllowedTools    []string // Tools to allow (e.g., "Read", "Edit", "Bash")
	DisallowedTools []string // Tools to disallow
}

// Args builds the command line for prompt
func (o *RunOptions) Args(prompt string, extraArgs ...string) []string {
	args := []string{"-p", "--output-format", "json"}
	if o != nil {
		if o.Agent != "" {
			args = append(args, "--agent", o.Agent)
		}
		if len(o.AllowedTools) > 0 {
			args = append(args, "--allowed-tools", strings.Join(o.AllowedTools, ","))
		}
		if len(o.DisallowedTools) > 0 {
			args = append(args, "--disallowed-tools", strings.Join(o.DisallowedTools, ","))
		}
	}
	args = append(args, extraArgs...)
	return append(args, prompt)
}

func (r Runner) Run(ctx context.Context, prompt string, extraArgs ...string) (string, error) {
	return r.RunWithOptions(ctx, prompt, nil, extraArgs...)
}

// RunWithOptions runs one prompt and returns the result text
func (r Runner) RunWithOptions(ctx context.Context, prompt string, opts *RunOptions, extraArgs ...string) (string, error) {
	bin := r.Bin
	if bin == "" {
		bin = "claude"
	}
	cctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, bin, opts.Args(prompt, extraArgs...)...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("claude timed out after %s", r.Timeout)
		}
		return "", fmt.Errorf("claude execution failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return ParseResponse(stdout.Bytes())
}

// ParseResponse extracts the result of a --output-format json response.
// Output that is not JSON is returned as is.
func ParseResponse(out []byte) (string, error) {
	var response ClaudeResponse
	if err := json.Unmarshal(out, &response); err != nil {
		return string(out), nil
	}
	if response.IsError {
		return "", fmt.Errorf("claude returned error: %s", response.Result)
	}
	return response.Result, nil
}
