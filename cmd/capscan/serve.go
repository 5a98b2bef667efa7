package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/logic/session"
	"github.com/cjeanneret/capscan/internal/web"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the capture/scan session over HTTP",
		Long:  "Runs the web UI and JSON API. Session transitions and results are pushed to /status/stream as server-sent events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if port > 0 {
				cfg.Web.Port = port
			}

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

			a, err := newApp(cfg,
				session.WithConsumer(web.Consumer(broadcaster)),
				session.WithObserver(web.TransitionObserver(broadcaster)),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := web.NewServer(cfg.WebAddr(), broadcaster, a.session, a.devices)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port, overrides web.port")
	return cmd
}
