package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

func newRunCmd(s *session) *cobra.Command {
	var (
		jsonOutput  bool
		interactive bool
		worker      string
		note        string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-type> <name> [prompt...]",
		Short: "Start, resume, decide or inspect a workflow run",
		Long: `Route a request to a workflow run.

  deerun run feature add-login "Add OAuth login"
  deerun run fix the crash on startup
  deerun run status add-login
  deerun run resume add-login
  deerun run decide add-login approve --note "looks good"
  deerun run abort add-login`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, " ")
			if note != "" && strings.EqualFold(args[0], "decide") {
				input += " " + note
			}

			ctx := cmd.Context()
			c, err := s.container(ctx, containerOptions{
				worker:      worker,
				interactive: interactive,
				stdin:       cmd.InOrStdin(),
				stdout:      cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}

			decision, err := c.router.Route(ctx, input)
			if err != nil {
				return err
			}
			s.logger.Debug("routed %q to %T", input, decision)

			outcome, runErr := c.engine.Handle(ctx, decision)
			if outcome != nil && outcome.Run != nil {
				if err := printRun(cmd.OutOrStdout(), outcome.Run, jsonOutput); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the run state as JSON")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer checkpoints on the terminal")
	cmd.Flags().StringVar(&worker, "worker", "", "worker backend override (claude|echo)")
	cmd.Flags().StringVar(&note, "note", "", "note recorded with a checkpoint decision")
	return cmd
}

func printRun(w io.Writer, r *run.WorkflowRun, jsonOutput bool) error {
	if jsonOutput {
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Workflow: %s\n", r.WorkflowType)
	fmt.Fprintf(w, "Status:   %s (revision %d)\n", r.Status, r.Revision)
	if r.SpecRef != "" {
		fmt.Fprintf(w, "Spec:     %s\n", r.SpecRef)
	}
	fmt.Fprintln(w, "Phases:")
	for i, p := range r.Phases {
		marker := " "
		switch {
		case p.Status == run.PhaseDone:
			marker = "x"
		case p.Status == run.PhaseSkipped:
			marker = "-"
		case p.Status == run.PhaseFailed:
			marker = "!"
		case i == r.CurrentPhaseIndex && !r.Status.IsTerminal():
			marker = ">"
		}
		line := fmt.Sprintf("  [%s] %-10s %-12s", marker, p.Name, p.Status)
		if p.OutputArtifactRef != "" {
			line += " " + p.OutputArtifactRef
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
		for _, f := range p.Failures {
			fmt.Fprintf(w, "        %s\n", f)
		}
	}

	if p := r.Pending; p != nil {
		fmt.Fprintf(w, "Checkpoint %s after %s: %s\n", p.Name, p.Phase, p.Prompt)
		if p.Reason != "" {
			fmt.Fprintf(w, "  reason: %s\n", p.Reason)
		}
		for _, o := range p.Options {
			fmt.Fprintf(w, "  %-12s %s\n", o.Value, o.Label)
		}
		fmt.Fprintf(w, "Decide with: deerun run decide %s <option>\n", r.Slug)
	}
	return nil
}
