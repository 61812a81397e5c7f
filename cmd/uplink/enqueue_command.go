package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"uplink/internal/queue"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var title string
	var caption string
	var thumbnail string
	var metaPairs []string

	cmd := &cobra.Command{
		Use:   "enqueue <payload>",
		Short: "Add a media file to the upload queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve payload path: %w", err)
			}
			info, err := os.Stat(payload)
			if err != nil {
				return fmt.Errorf("payload not accessible: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("payload %s is a directory", payload)
			}

			metadata, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}
			if title = strings.TrimSpace(title); title != "" {
				metadata["title"] = title
			}
			if caption = strings.TrimSpace(caption); caption != "" {
				metadata["caption"] = caption
			}

			var thumbPath string
			if thumbnail = strings.TrimSpace(thumbnail); thumbnail != "" {
				thumbPath, err = filepath.Abs(thumbnail)
				if err != nil {
					return fmt.Errorf("resolve thumbnail path: %w", err)
				}
				if _, err := os.Stat(thumbPath); err != nil {
					return fmt.Errorf("thumbnail not accessible: %w", err)
				}
			}

			return ctx.withStore(func(store *queue.Store) error {
				job, err := store.NewJob(cmd.Context(), ctx.owner(), payload, metadata, thumbPath)
				if err != nil {
					return fmt.Errorf("enqueue upload: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as job %s (owner %s)\n", filepath.Base(payload), job.ID, job.OwnerID)
				fmt.Fprintln(cmd.OutOrStdout(), "The daemon will pick it up on its next poll.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title stored with the upload")
	cmd.Flags().StringVar(&caption, "caption", "", "Caption stored with the upload")
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "Path to a thumbnail image")
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "Additional metadata as key=value (repeatable)")
	return cmd
}

func parseMetadata(pairs []string) (map[string]string, error) {
	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		metadata[key] = strings.TrimSpace(value)
	}
	return metadata, nil
}
