package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/logic/capture"
	"github.com/cjeanneret/capscan/internal/logic/session"
)

const (
	snapRetries    = 10
	snapRetryDelay = 100 * time.Millisecond
)

func newSnapCmd(root *rootOptions) *cobra.Command {
	var flagOut string

	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Take one photo and write it as JPEG",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.SetMode(session.ModePhoto); err != nil {
				return err
			}
			if err := a.session.Start(cmd.Context()); err != nil {
				return err
			}
			img, err := captureWithRetry(cmd.Context(), a.session)
			if err != nil {
				return err
			}
			if err := os.WriteFile(flagOut, img.Payload, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", flagOut)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d %d bytes\n", flagOut, img.Width, img.Height, len(img.Payload))
			return err
		},
	}
	cmd.Flags().StringVarP(&flagOut, "out", "o", "snapshot.jpg", "output file")
	return cmd
}

// captureWithRetry retries a capture that found the stream not ready yet.
func captureWithRetry(ctx context.Context, s *session.Controller) (capture.Image, error) {
	for attempt := 1; ; attempt++ {
		img, err := s.Capture(ctx)
		if !errors.Is(err, fault.ErrNotReady) || attempt == snapRetries {
			return img, err
		}
		debug.Verbose("Capture not ready, retry %d/%d", attempt, snapRetries)
		select {
		case <-time.After(snapRetryDelay):
		case <-ctx.Done():
			s.Stop()
			return capture.Image{}, fault.New(fault.Cancelled, "snap", ctx.Err())
		}
	}
}
