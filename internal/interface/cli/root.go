package cli

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deerun/internal/app/config"
	infraConfig "github.com/YoshitsuguKoike/deerun/internal/infra/config"
	"github.com/YoshitsuguKoike/deerun/internal/interface/cli/version"
)

// homeEnv overrides the settings directory
const homeEnv = "DEERUN_HOME"

// session is the state shared by the commands of one invocation
type session struct {
	fs      afero.Fs
	home    string
	verbose bool
	cfg     *config.AppConfig
	loadErr error
	logger  *Logger
}

// NewRoot builds the deerun command tree on the OS filesystem
func NewRoot() *cobra.Command {
	return newRoot(afero.NewOsFs())
}

func newRoot(fs afero.Fs) *cobra.Command {
	s := &session{fs: fs}

	cmd := &cobra.Command{
		Use:           "deerun",
		Short:         "Deterministic multi-agent workflow runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Priority: --home > DEERUN_HOME > .deerun
			if s.home == "" {
				s.home = os.Getenv(homeEnv)
			}
			if s.home == "" {
				s.home = config.Default().Home()
			}

			cfg, err := infraConfig.LoadSettings(s.fs, s.home)
			if err != nil {
				// Continue with defaults; doctor reports the failure
				s.loadErr = err
				cfg = config.NewAppConfig(config.Options{
					Home:           s.home,
					Root:           config.Default().Root(),
					AgentBin:       config.Default().AgentBin(),
					TimeoutSec:     config.Default().TimeoutSec(),
					WorkerBackend:  config.Default().WorkerBackend(),
					StorageBackend: config.Default().StorageBackend(),
					LockTTLSec:     int(config.Default().LockTTL().Seconds()),
					StderrLevel:    config.Default().StderrLevel(),
					ConfigSource:   "default",
				})
			}
			s.cfg = cfg

			level := cfg.StderrLevel()
			if s.verbose {
				level = LogLevelDebug.String()
			}
			s.logger = InitGlobalLogger(level, cmd.ErrOrStderr())
			InitializeLoggers(s.logger)
			if s.loadErr != nil {
				s.logger.Warn("using default settings: %v", s.loadErr)
			}
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&s.home, "home", "", "settings directory (default $"+homeEnv+" or .deerun)")
	cmd.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(newRunCmd(s))
	cmd.AddCommand(newListCmd(s))
	cmd.AddCommand(newDoctorCmd(s))
	cmd.AddCommand(newInitCmd(s))
	cmd.AddCommand(version.NewCommand())
	return cmd
}
