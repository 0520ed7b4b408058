package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ListEntry is one line of `deerun list --json`
type ListEntry struct {
	Slug     string `json:"slug"`
	ID       string `json:"id"`
	Workflow string `json:"workflow_type"`
	Status   string `json:"status"`
	Phase    string `json:"phase,omitempty"`
	Pending  string `json:"pending,omitempty"`
	Updated  string `json:"updated_at"`
}

func newListCmd(s *session) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs with their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := s.container(ctx, containerOptions{})
			if err != nil {
				return err
			}
			runs, err := c.engine.List(ctx)
			if err != nil {
				return err
			}

			entries := make([]ListEntry, 0, len(runs))
			for _, r := range runs {
				e := ListEntry{
					Slug:     r.Slug,
					ID:       r.ID,
					Workflow: r.WorkflowType,
					Status:   string(r.Status),
					Updated:  r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				}
				if p := r.Current(); p != nil {
					e.Phase = p.Name
				}
				if r.Pending != nil {
					e.Pending = r.Pending.Name
				}
				entries = append(entries, e)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				b, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
				return nil
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs")
				return nil
			}
			for _, e := range entries {
				phase := e.Phase
				if phase == "" {
					phase = "-"
				}
				fmt.Fprintf(out, "%-24s %-9s %-22s %s\n", e.Slug, e.Workflow, e.Status, phase)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print runs as JSON")
	return cmd
}
