package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/manifoldco/promptui"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// DeferredPrompter never blocks; the decision arrives later through `run decide`
type DeferredPrompter struct{}

// Prompt always returns ErrSuspended
func (DeferredPrompter) Prompt(ctx context.Context, pending *run.PendingCheckpoint) (Answer, error) {
	return Answer{}, ErrSuspended
}

// SelectPrompter asks interactively on a terminal
type SelectPrompter struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

// Prompt shows the options as a select list. Ctrl-C or EOF defers the decision.
func (p SelectPrompter) Prompt(ctx context.Context, pending *run.PendingCheckpoint) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	label := pending.Prompt
	if label == "" {
		label = fmt.Sprintf("Checkpoint %s", pending.Name)
	}
	if pending.Reason != "" {
		label = fmt.Sprintf("%s (%s)", label, pending.Reason)
	}

	sel := promptui.Select{
		Label: label,
		Items: pending.Options,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "▸ {{ .Value | cyan }} {{ .Label | faint }}",
			Inactive: "  {{ .Value }} {{ .Label | faint }}",
			Selected: "✔ {{ .Value | green }}",
		},
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
	}
	idx, _, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
			return Answer{}, ErrSuspended
		}
		return Answer{}, fmt.Errorf("checkpoint prompt failed: %w", err)
	}
	return Answer{Option: pending.Options[idx].Value}, nil
}

// ScriptedPrompter answers from a fixed script, one answer per call.
// Once the script is exhausted it defers.
type ScriptedPrompter struct {
	mu      sync.Mutex
	answers []Answer
	asked   []string
}

// NewScriptedPrompter creates a prompter that picks the given options in order
func NewScriptedPrompter(options ...string) *ScriptedPrompter {
	p := &ScriptedPrompter{}
	for _, o := range options {
		p.answers = append(p.answers, Answer{Option: o})
	}
	return p
}

// Prompt returns the next scripted answer
func (p *ScriptedPrompter) Prompt(ctx context.Context, pending *run.PendingCheckpoint) (Answer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, pending.Name)
	if len(p.answers) == 0 {
		return Answer{}, ErrSuspended
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

// Asked returns the checkpoint names prompted so far
func (p *ScriptedPrompter) Asked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.asked...)
}
