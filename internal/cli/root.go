// Package cli implements the plannotator command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dgrissen2/plannotator-ext/internal/api"
	"github.com/dgrissen2/plannotator-ext/internal/config"
	"github.com/dgrissen2/plannotator-ext/internal/logutils"
)

var rootCmd = &cobra.Command{
	Use:   "plannotator",
	Short: "Review agent plans and diffs in the browser",
	Long: `plannotator serves a plan, a markdown file or a git diff on a local
web page, waits for a reviewer to approve it or request changes, and hands
that decision back to the calling agent on stdout.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

var flags struct {
	configPath string
	logLevel   string
	logFile    string
	port       int
	noBrowser  bool
}

// appState is built once per invocation by setup.
type appState struct {
	cfg       *config.Config
	log       zerolog.Logger
	closeLog  func()
	noBrowser bool
	stderr    io.Writer

	// started is called once the review server is listening.
	started func(*api.Server)
}

var app *appState

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.plannotator/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFile, "log-file", "", "write logs to this file instead of stderr")
	pf.IntVarP(&flags.port, "port", "p", 0, "port to listen on (overrides "+config.EnvPort+")")
	pf.BoolVar(&flags.noBrowser, "no-browser", false, "do not open a browser, only print the URL")

	rootCmd.AddCommand(planCmd, annotateCmd, reviewCmd, versionCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel a pending review.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("locate home directory: %w", err)
	}

	path := flags.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	if path == "" {
		path = config.DefaultPath(home)
	}

	cfg, err := config.Load(path, home, os.LookupEnv)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flags.port
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.LogFile = flags.logFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog, err := logutils.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	log.Logger = logger

	app = &appState{
		cfg:       cfg,
		log:       logger,
		closeLog:  closeLog,
		noBrowser: flags.noBrowser,
		stderr:    cmd.ErrOrStderr(),
	}
	logger.Debug().Str("config", path).Bool("remote", cfg.Remote).Msg("configuration loaded")
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if app != nil && app.closeLog != nil {
		app.closeLog()
	}
	return nil
}
