package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threepress/bookworm/internal/config"
	"github.com/threepress/bookworm/internal/library"
)

// env holds what every subcommand needs once the configuration is loaded.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:   config.AppName,
		Short: "Explode ePub books into a reading library",
		Long: `bookworm takes ePub archives apart into chapters, stylesheets and
images, sanitizes chapter markup for display and keeps the results in a
small SQLite library.

Settings come from built-in defaults, an optional YAML file (--config)
and BOOKWORM_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			e.finish()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "YAML configuration file")
	flags.String("database", "", "library database (overrides library.database)")
	flags.String("owner", "", "library owner (overrides library.owner)")
	flags.BoolP("verbose", "v", false, "log debug messages to the console")

	rootCmd.AddCommand(
		newExplodeCmd(e),
		newTOCCmd(e),
		newRenderCmd(e),
		newImportCmd(e),
		newListCmd(e),
		newDeleteCmd(e),
		newDownloadCmd(e),
		newSearchCmd(e),
		newStatsCmd(e),
		newConfigCmd(e),
	)
	// PersistentPostRun is skipped when a command fails.
	for _, c := range rootCmd.Commands() {
		run := c.RunE
		c.RunE = func(cmd *cobra.Command, args []string) error {
			defer e.finish()
			return run(cmd, args)
		}
	}
	return rootCmd
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func (e *env) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if v, _ := flags.GetString("database"); v != "" {
		cfg.Library.Database = v
	}
	if v, _ := flags.GetString("owner"); v != "" {
		cfg.Library.Owner = v
	}
	if v, _ := flags.GetBool("verbose"); v {
		cfg.Logging.ConsoleLogger.Level = "debug"
	}

	log, closeLog, err := cfg.Logging.Prepare()
	if err != nil {
		return fmt.Errorf("unable to prepare logs: %w", err)
	}
	e.cfg, e.log, e.closeLog = cfg, log, closeLog
	log.Debug("Program started", zap.String("config", path))
	return nil
}

// finish flushes the logger and closes the log file. It is safe to call
// more than once.
func (e *env) finish() {
	if e.log != nil {
		_ = e.log.Sync()
	}
	if e.closeLog != nil {
		_ = e.closeLog()
		e.closeLog = nil
	}
}

// openLibrary opens the configured SQLite library. The caller closes the
// returned store.
func (e *env) openLibrary() (*library.Library, library.Store, error) {
	store, err := library.OpenSQLite(e.cfg.Library.Database)
	if err != nil {
		return nil, nil, err
	}
	lib := library.New(store, library.Options{
		Logger:    e.log,
		Fallback:  e.cfg.Render.Fallback,
		Thumbnail: e.cfg.Images.Thumbnail,
	})
	return lib, store, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
