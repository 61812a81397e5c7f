package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"uplink/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var allOwners bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show upload queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			out := cmd.OutOrStdout()

			return ctx.withStore(func(store *queue.Store) error {
				for _, line := range renderSectionHeader("Uplink Status", colorize) {
					fmt.Fprintln(out, line)
				}
				lockPath := filepath.Join(cfg.Paths.LogDir, "uplinkd.lock")
				daemonKind, daemonMsg := daemonStatus(lockPath)
				fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, store.Path(), colorize))
				fmt.Fprintln(out, renderStatusLine("Endpoint", statusInfo, cfg.Upload.Endpoint, colorize))

				owners := []string{ctx.owner()}
				if allOwners {
					listed, err := store.Owners(cmd.Context())
					if err != nil {
						return err
					}
					if len(listed) > 0 {
						owners = listed
					}
				}

				for _, owner := range owners {
					health, err := store.Health(cmd.Context(), owner)
					if err != nil {
						return err
					}
					kind := statusOK
					message := fmt.Sprintf("%d pending, %d uploading, %d completed, %d failed",
						health.Pending, health.Uploading, health.Completed, health.Failed)
					if health.Failed > 0 {
						kind = statusWarn
					}
					fmt.Fprintln(out, renderStatusLine("Scope "+owner, kind, message, colorize))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&allOwners, "all", false, "Show every owner scope in the database")
	return cmd
}

// daemonStatus infers whether uplinkd is running from its lock file. The lock
// is advisory, so a present file with no holder reads as stopped.
func daemonStatus(lockPath string) (statusKind, string) {
	if _, err := os.Stat(lockPath); err != nil {
		return statusWarn, "not running"
	}
	lock := flock.New(lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return statusInfo, "lock state unknown: " + err.Error()
	}
	if acquired {
		lock.Unlock()
		return statusWarn, "not running (stale lock file)"
	}
	return statusOK, "running"
}
