package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/logic/decode"
	"github.com/cjeanneret/capscan/internal/logic/session"
)

func newScanCmd(root *rootOptions) *cobra.Command {
	var (
		flagMode    string
		flagTimeout time.Duration
		flagCopy    bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one QR code or barcode from the camera",
		Long:  "Opens the rear camera, decodes frames until the first code is found, prints it and releases the camera.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := session.ParseMode(flagMode)
			if err != nil {
				return err
			}
			if !mode.Scans() {
				return errors.Errorf("scan needs --mode qr or barcode, got %s", mode)
			}

			results := make(chan decode.Result, 1)
			failures := make(chan error, 1)
			a, err := newApp(root.cfg,
				session.WithConsumer(session.ConsumerFuncs{Scanned: func(r decode.Result) {
					select {
					case results <- r:
					default:
					}
				}}),
				session.WithObserver(func(t session.Transition) {
					if t.To != session.Failed {
						return
					}
					select {
					case failures <- t.Err:
					default:
					}
				}),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.SetMode(mode); err != nil {
				return err
			}
			if err := a.session.Start(cmd.Context()); err != nil {
				return err
			}
			res, err := awaitScan(cmd.Context(), a.session, results, failures, flagTimeout)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, flagCopy)
		},
	}
	cmd.Flags().StringVar(&flagMode, "mode", "qr", "what to scan: qr or barcode")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "give up after this long")
	cmd.Flags().BoolVar(&flagCopy, "copy", false, "copy the decoded text to the clipboard")
	return cmd
}

// awaitScan waits for the running decode loop. On timeout or
// cancellation it stops the session so the camera is released.
func awaitScan(ctx context.Context, s *session.Controller, results <-chan decode.Result, failures <-chan error, timeout time.Duration) (decode.Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res, nil
	case err := <-failures:
		return decode.Result{}, err
	case <-timer.C:
		s.Stop()
		return decode.Result{}, fault.Newf(fault.NoCodeFound, "scan", "nothing decoded within %s", timeout)
	case <-ctx.Done():
		s.Stop()
		return decode.Result{}, fault.New(fault.Cancelled, "scan", ctx.Err())
	}
}

func printResult(w io.Writer, res decode.Result, copyText bool) error {
	if _, err := fmt.Fprintf(w, "%s\t%s\n", res.Format, res.Text); err != nil {
		return err
	}
	if copyText {
		if err := clipboard.WriteAll(res.Text); err != nil {
			// headless hosts have no clipboard; the text is already printed
			debug.Error(errors.Wrap(err, "copy to clipboard"))
		} else {
			debug.Info("Copied to clipboard")
		}
	}
	return nil
}
