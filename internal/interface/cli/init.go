package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	infraConfig "github.com/YoshitsuguKoike/deerun/internal/infra/config"
)

func newInitCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the settings file and the artifact directories",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			out := c.OutOrStdout()
			root := s.cfg.Root()

			dirs := []string{s.home}
			for _, cat := range []repository.Category{
				repository.CategorySpecs, repository.CategoryReports, repository.CategoryPlans, repository.CategoryState,
			} {
				dirs = append(dirs, filepath.Join(root, cat.Dir()))
			}
			for _, d := range dirs {
				if err := s.fs.MkdirAll(d, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", d, err)
				}
			}

			settingPath := filepath.Join(s.home, "setting.json")
			created, err := writeIfNotExists(s.fs, settingPath, infraConfig.CreateDefaultSettings())
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Initialized deerun:")
			if created {
				fmt.Fprintf(out, "  %s\n", settingPath)
			} else {
				fmt.Fprintf(out, "  %s (kept)\n", settingPath)
			}
			for _, d := range dirs[1:] {
				fmt.Fprintf(out, "  %s/\n", d)
			}
			return nil
		},
	}
}

// writeIfNotExists reports whether the file was created
func writeIfNotExists(fs afero.Fs, path string, data []byte) (bool, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists {
		return false, nil
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
