package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"task-manager/tasksync/internal/app"
	"task-manager/tasksync/internal/fakeapi"

	"github.com/spf13/cobra"
)

func syncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes against the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.offline {
				return errors.New("cannot sync with --offline")
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if !a.Store.Online() {
					return fmt.Errorf("API unreachable, %d change(s) still queued", len(a.Store.Pending()))
				}
				// Connect already replayed; a second pass picks up anything
				// that was skipped while its CREATE was in flight.
				result, err := a.Store.SyncPendingActions(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d, failed %d, dropped %d, %d still queued\n",
					result.Replayed, result.Failed, result.Dropped, len(a.Store.Pending()))
				return nil
			})
		},
	}
}

func statusCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				stats := a.Store.Stats()
				stats["storage"] = a.Config.Storage.Driver
				stats["api"] = a.Config.API.BaseURL
				breaker := a.Client.BreakerStatus()
				stats["breaker"] = breaker.State
				if breaker.RetryAt != nil {
					stats["breaker_retry_at"] = breaker.RetryAt.Format(time.RFC3339)
				}

				if asJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Task Sync Status")
				fmt.Fprintln(out, strings.Repeat("=", 40))
				keys := make([]string, 0, len(stats))
				for k := range stats {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %-16s %v\n", k+":", stats[k])
				}
				for _, action := range a.Store.Pending() {
					fmt.Fprintf(out, "  queued: %s %s at %s\n", action.Kind, action.TaskID, action.EnqueuedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the local copy of your tasks and queued changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				userID := a.Store.UserID()
				if err := a.Forget(ctx, force); err != nil {
					if errors.Is(err, app.ErrUnsyncedChanges) {
						return fmt.Errorf("%w; run sync first or pass --force", err)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared local data for %s\n", userID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard queued changes that have not synced")

	return cmd
}

func agentCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Watch connectivity and serve the status endpoints until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if err := a.StartSession(ctx); err != nil {
					a.Logger.Printf("[offline] initial load failed: %v", err)
				}

				if !flags.offline {
					watcher := a.Watcher()
					watcher.Start()
					defer watcher.Stop()
				}

				server := a.StatusServer()
				errCh := make(chan error, 1)
				go func() {
					a.Logger.Printf("Status server listening on %s", server.Addr)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}()
				fmt.Fprintf(cmd.OutOrStdout(), "Agent running for %s, status on http://%s\n", a.Store.UserID(), server.Addr)

				select {
				case <-ctx.Done():
				case err := <-errCh:
					return fmt.Errorf("status server failed: %w", err)
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
		},
	}
}

func mockAPICmd() *cobra.Command {
	var addr, secret string

	cmd := &cobra.Command{
		Use:   "mock-api",
		Short: "Serve an in-memory task API for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var opts []fakeapi.Option
			if secret != "" {
				opts = append(opts, fakeapi.WithSecret(secret))
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           fakeapi.New(opts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Mock API listening on http://%s\n", addr)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "Listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "Verify HS256 bearer tokens with this secret")

	return cmd
}
