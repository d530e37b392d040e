// Package cmd is the graphiti-browser command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/graphiti-browser/internal/app"
	"github.com/nextlevelbuilder/graphiti-browser/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile  string
	verbose  bool
	groupArg string
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "graphiti-browser",
		Short:         "Browse a Graphiti knowledge graph, chat with its agent and watch scheduled tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.graphiti-browser/config.json5, or $"+config.EnvPath+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVarP(&groupArg, "group", "g", "", "group id (overrides config)")

	root.AddCommand(watchCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(tasksCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(docsCmd())
	root.AddCommand(notificationsCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(logoutCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// loadConfig reads the config and applies the --group flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if groupArg != "" {
		cfg.GroupID = config.NormalizeGroupID(groupArg)
	}
	return cfg, nil
}

// openApp loads config and builds the runtime. The caller must Close it.
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openAppWith(ctx, cfg, opts...)
}

func openAppWith(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, error) {
	base := []app.Option{
		app.WithConfigPath(resolveConfigPath()),
		app.WithVerbose(verbose),
		app.WithVersion(Version),
	}
	return app.Init(ctx, cfg, append(base, opts...)...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
