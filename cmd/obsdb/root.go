package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/logging"
	"github.com/obsdb/obsdb/internal/runner"
)

var (
	configPath string
	opensuse   bool
	logPath    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "obsdb",
	Short:         "Mirror build service projects and index them",
	Long:          "obsdb keeps a local mirror of build service projects up to date from the hermes feed, indexes it in a catalog and exports one XML document per project.",
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := runner.Options{}
		if term.IsTerminal(int(os.Stdout.Fd())) {
			opts.Progress = os.Stdout
		}

		summary, err := runner.New(cfg, opts).Run(ctx)
		if len(summary.Stages) > 0 {
			summary.Render(cmd.OutOrStdout())
		}
		return err
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Configuration file (default $XDG_CONFIG_HOME/obsdb/obsdb.conf)")
	flags.BoolVar(&opensuse, "opensuse", false, "Layer the embedded openSUSE defaults under the configuration")
	flags.StringVar(&logPath, "log", "", "Write the log to this file instead of stderr")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newMCPCmd())
}

func defaultConfigPath() string {
	path := filepath.Join(xdg.ConfigHome, "obsdb", "obsdb.conf")
	if filesystem.FileExists(path) {
		return path
	}
	return ""
}

// setup loads the configuration and installs the logger.
func setup() (*config.Config, func() error, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path, opensuse)
	if err != nil {
		return nil, nil, err
	}

	closer, err := logging.Init(logging.Options{Path: logPath, Debug: debug || cfg.Debug.Debug})
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer.Close, nil
}
