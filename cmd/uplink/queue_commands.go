package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uplink/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the upload queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List this owner's upload jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter queue.Filter
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q (expected one of %s)", raw, statusChoices())
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			return ctx.withStore(func(store *queue.Store) error {
				jobs, err := store.List(cmd.Context(), ctx.owner(), filter)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						shortID(job.ID),
						jobDisplayTitle(job),
						string(job.Status),
						formatProgress(job),
						strconv.Itoa(job.Attempt),
						job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					})
				}
				table := renderTable(
					[]string{"ID", "Title", "Status", "Progress", "Attempts", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				job, err := resolveJob(cmd, store, ctx.owner(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:       %s\n", job.ID)
				fmt.Fprintf(out, "Owner:     %s\n", job.OwnerID)
				fmt.Fprintf(out, "Status:    %s\n", job.Status)
				fmt.Fprintf(out, "Payload:   %s\n", job.PayloadPath)
				if job.ThumbnailPath != "" {
					fmt.Fprintf(out, "Thumbnail: %s\n", job.ThumbnailPath)
				}
				fmt.Fprintf(out, "Progress:  %s\n", formatProgress(job))
				fmt.Fprintf(out, "Attempts:  %d\n", job.Attempt)
				fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Local().Format(time.RFC1123))
				if job.RemoteID != "" {
					fmt.Fprintf(out, "Remote ID: %s\n", job.RemoteID)
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
				}
				if job.NextAttemptAt != nil {
					fmt.Fprintf(out, "Next try:  %s\n", job.NextAttemptAt.Local().Format(time.RFC1123))
				}
				for key, value := range job.Metadata {
					fmt.Fprintf(out, "Meta:      %s=%s\n", key, value)
				}
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				job, err := resolveJob(cmd, store, ctx.owner(), args[0])
				if err != nil {
					return err
				}
				if job.Status != queue.StatusFailed {
					return fmt.Errorf("job %s is %s; only failed jobs can be retried", shortID(job.ID), job.Status)
				}
				ok, err := store.RetryFailed(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job %s changed state; retry aborted", shortID(job.ID))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued for retry\n", shortID(job.ID))
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending, failed, or in-flight upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				job, err := resolveJob(cmd, store, ctx.owner(), args[0])
				if err != nil {
					return err
				}
				if job.Status.IsTerminal() {
					return fmt.Errorf("job %s is already %s", shortID(job.ID), job.Status)
				}
				ok, err := store.MarkCancelled(cmd.Context(), job.ID, job.Status)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job %s changed state; cancel aborted", shortID(job.ID))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", shortID(job.ID))
				if job.Status == queue.StatusUploading {
					fmt.Fprintln(cmd.OutOrStdout(), "The in-flight transfer will stop at the daemon's next checkpoint; already uploaded bytes remain on the remote.")
				}
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a finished job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				job, err := resolveJob(cmd, store, ctx.owner(), args[0])
				if err != nil {
					return err
				}
				if !job.Status.IsTerminal() {
					return fmt.Errorf("job %s is %s; cancel it before removing", shortID(job.ID), job.Status)
				}
				removed, err := store.Remove(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("job %s was already removed", shortID(job.ID))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s removed\n", shortID(job.ID))
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove this owner's completed uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				removed, err := store.ClearCompleted(cmd.Context(), ctx.owner())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed upload(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue counts for this owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.Health(cmd.Context(), ctx.owner())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"pending", strconv.Itoa(health.Pending)},
					{"uploading", strconv.Itoa(health.Uploading)},
					{"completed", strconv.Itoa(health.Completed)},
					{"failed", strconv.Itoa(health.Failed)},
					{"cancelled", strconv.Itoa(health.Cancelled)},
					{"total", strconv.Itoa(health.Total)},
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

// resolveJob loads a job by full or prefix ID and enforces the owner scope.
func resolveJob(cmd *cobra.Command, store *queue.Store, ownerID, rawID string) (*queue.Job, error) {
	rawID = strings.TrimSpace(rawID)
	if rawID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	job, err := store.GetByID(cmd.Context(), rawID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Allow unambiguous ID prefixes for CLI ergonomics.
		jobs, err := store.List(cmd.Context(), ownerID, queue.Filter{})
		if err != nil {
			return nil, err
		}
		var matches []*queue.Job
		for _, candidate := range jobs {
			if strings.HasPrefix(candidate.ID, rawID) {
				matches = append(matches, candidate)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("no job with ID %s in scope %s", rawID, ownerID)
		case 1:
			job = matches[0]
		default:
			return nil, fmt.Errorf("job ID prefix %s is ambiguous (%d matches)", rawID, len(matches))
		}
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("no job with ID %s in scope %s", rawID, ownerID)
	}
	return job, nil
}

func jobDisplayTitle(job *queue.Job) string {
	if title := strings.TrimSpace(job.Metadata["title"]); title != "" {
		return title
	}
	return filepath.Base(job.PayloadPath)
}

func formatProgress(job *queue.Job) string {
	return fmt.Sprintf("%d%%", int(job.Progress*100))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusChoices() string {
	statuses := queue.AllStatuses()
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, string(status))
	}
	return strings.Join(parts, ", ")
}
