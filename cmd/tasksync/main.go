package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"task-manager/tasksync/internal/app"
	"task-manager/tasksync/internal/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

type globalFlags struct {
	envFiles []string
	offline  bool
	verbose  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "tasksync",
		Short:         "Offline-aware client for the task API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "Load environment from these files (default .env)")
	rootCmd.PersistentFlags().BoolVar(&flags.offline, "offline", false, "Do not contact the API; work from the local mirror")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log sync activity to stderr")

	rootCmd.AddCommand(listCmd(flags))
	rootCmd.AddCommand(addCmd(flags))
	rootCmd.AddCommand(doneCmd(flags))
	rootCmd.AddCommand(moveCmd(flags))
	rootCmd.AddCommand(reorderCmd(flags))
	rootCmd.AddCommand(rmCmd(flags))
	rootCmd.AddCommand(syncCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(logoutCmd(flags))
	rootCmd.AddCommand(agentCmd(flags))
	rootCmd.AddCommand(mockAPICmd())

	return rootCmd
}

func (f *globalFlags) logger(cmd *cobra.Command) *log.Logger {
	if f.verbose {
		return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// withApp loads configuration, opens the session and hands the app to fn.
// Unless --offline is set the API is probed first, which replays anything
// queued by earlier runs.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadConfig(flags.envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, flags.logger(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	if !flags.offline && !a.Connect(ctx) {
		fmt.Fprintln(cmd.ErrOrStderr(), "API unreachable, working offline")
	}
	return fn(ctx, a)
}
