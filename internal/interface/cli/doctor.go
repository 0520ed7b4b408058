package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deerun/internal/adapter/gateway/agent"
	"github.com/YoshitsuguKoike/deerun/internal/application/dispatcher"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
	"github.com/YoshitsuguKoike/deerun/internal/validator/journal"
)

// DoctorJSON is the machine-readable doctor report
type DoctorJSON struct {
	ConfigSource  string                          `json:"config_source"`
	SettingPaths  []string                        `json:"setting_paths"`
	Home          string                          `json:"home"`
	Root          string                          `json:"root"`
	WorkerBackend string                          `json:"worker_backend"`
	AgentBin      string                          `json:"agent_bin"`
	Storage       string                          `json:"storage"`
	Workflows     map[string]int                  `json:"workflows"`
	MaxInstances  map[string]dispatcher.KindStats `json:"max_instances"`
	Agents        []string                        `json:"agents"`
	Skills        []string                        `json:"skills"`
	Artifacts     map[string]int                  `json:"artifacts"`
	Journals      map[string]journal.Summary      `json:"journals"`
	Warnings      []string                        `json:"warnings"`
	Errors        []string                        `json:"errors"`
}

func newDoctorCmd(s *session) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, workflow catalog and artifact store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDoctor(cmd, s)
			out := cmd.OutOrStdout()
			if jsonOutput {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
			} else {
				printDoctor(out, report)
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("doctor found %d error(s)", len(report.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func runDoctor(cmd *cobra.Command, s *session) *DoctorJSON {
	cfg := s.cfg
	report := &DoctorJSON{
		ConfigSource:  cfg.ConfigSource(),
		SettingPaths:  cfg.SettingPaths(),
		Home:          s.home,
		Root:          cfg.Root(),
		WorkerBackend: cfg.WorkerBackend(),
		AgentBin:      cfg.AgentBin(),
		Storage:       cfg.StorageBackend(),
		Workflows:     map[string]int{},
		MaxInstances:  map[string]dispatcher.KindStats{},
		Agents:        []string{},
		Skills:        []string{},
		Artifacts:     map[string]int{},
		Journals:      map[string]journal.Summary{},
		Warnings:      []string{},
		Errors:        []string{},
	}
	if s.loadErr != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("settings: %v", s.loadErr))
	}
	if strings.EqualFold(cfg.WorkerBackend(), agent.BackendClaude) {
		if _, err := exec.LookPath(cfg.AgentBin()); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s not found in PATH", cfg.AgentBin()))
		}
	}

	ctx := cmd.Context()
	c, err := s.container(ctx, containerOptions{})
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}

	report.MaxInstances = c.pool.GetStats()
	for _, t := range c.catalog.Types() {
		defs, _ := c.catalog.Phases(t)
		report.Workflows[t.String()] = len(defs)
	}
	known := map[string]bool{}
	for _, k := range c.catalog.WorkerKinds() {
		known[k] = true
	}
	for kind := range report.MaxInstances {
		if !known[kind] {
			report.Warnings = append(report.Warnings, fmt.Sprintf("max_instances: unknown worker kind %q", kind))
		}
	}

	for _, a := range c.agents.Agents {
		report.Agents = append(report.Agents, a.Name)
	}
	for _, sk := range c.agents.Skills {
		report.Skills = append(report.Skills, sk.Name)
	}
	for _, issue := range c.agents.Issues {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", issue.Path, issue.Message))
	}

	for _, cat := range []repository.Category{repository.CategorySpecs, repository.CategoryReports, repository.CategoryPlans} {
		locators, err := c.artifacts.List(ctx, cat)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("list %s: %v", cat.Dir(), err))
			continue
		}
		report.Artifacts[cat.Dir()] = len(locators)
	}
	runs, err := c.runs.List(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list runs: %v", err))
	}
	for _, r := range runs {
		checkJournal(s, cfg.Root(), r.Slug, report)
	}
	return report
}

func checkJournal(s *session, root, slug string, report *DoctorJSON) {
	rel := specpath.JournalPath(slug)
	f, err := s.fs.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		if !os.IsNotExist(err) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
		}
		return
	}
	defer f.Close()

	result, err := journal.NewValidator(rel).ValidateFile(f)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
		return
	}
	report.Journals[slug] = result.Summary
	for _, line := range result.Lines {
		for _, issue := range line.Issues {
			msg := fmt.Sprintf("%s:%d: %s", rel, line.Line, issue.Message)
			switch issue.Type {
			case "error":
				report.Errors = append(report.Errors, msg)
			case "warn":
				report.Warnings = append(report.Warnings, msg)
			}
		}
	}
}

func printDoctor(w io.Writer, r *DoctorJSON) {
	fmt.Fprintf(w, "Config:   %s", r.ConfigSource)
	if len(r.SettingPaths) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(r.SettingPaths, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Home:    ", r.Home)
	fmt.Fprintln(w, "Root:    ", r.Root)
	fmt.Fprintln(w, "Worker:  ", r.WorkerBackend)
	fmt.Fprintln(w, "Storage: ", r.Storage)

	fmt.Fprintln(w, "Workflows:")
	for _, name := range sortedKeys(r.Workflows) {
		fmt.Fprintf(w, "  %-9s %d phases\n", name, r.Workflows[name])
	}
	if len(r.MaxInstances) > 0 {
		fmt.Fprintln(w, "Limits:")
		for _, kind := range sortedKeys(r.MaxInstances) {
			st := r.MaxInstances[kind]
			fmt.Fprintf(w, "  %-12s %d/%d\n", kind, st.Current, st.Max)
		}
	}
	fmt.Fprintf(w, "Agents:   %d %v\n", len(r.Agents), r.Agents)
	fmt.Fprintf(w, "Skills:   %d %v\n", len(r.Skills), r.Skills)
	for _, dir := range sortedKeys(r.Artifacts) {
		fmt.Fprintf(w, "OK: %s (%d artifacts)\n", dir, r.Artifacts[dir])
	}
	for _, slug := range sortedKeys(r.Journals) {
		sum := r.Journals[slug]
		fmt.Fprintf(w, "Journal %s: %d lines, %d ok, %d warn, %d error\n", slug, sum.Lines, sum.OK, sum.Warn, sum.Error)
	}
	for _, msg := range r.Warnings {
		fmt.Fprintln(w, "WARN:", msg)
	}
	for _, msg := range r.Errors {
		fmt.Fprintln(w, "ERROR:", msg)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
