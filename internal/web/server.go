package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/hw/device"
	"github.com/cjeanneret/capscan/internal/logic/session"
)

// staticFiles is the browser UI served at / and /static/.
//
//go:embed static/*
var staticFiles embed.FS

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, sess Session, devices DeviceLister) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, errors.Wrap(err, "web: sub static fs")
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, sess, devices, subFS),
	}, nil
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := mux.NewRouter()

	r.HandleFunc("/session", h.HandleSession).Methods("GET")
	r.HandleFunc("/session/mode", h.HandleMode).Methods("POST")
	r.HandleFunc("/session/start", h.HandleStart).Methods("POST")
	r.HandleFunc("/session/capture", h.HandleCapture).Methods("POST")
	r.HandleFunc("/session/stop", h.HandleStop).Methods("POST")
	r.HandleFunc("/session/retake", h.HandleRetake).Methods("POST")
	r.HandleFunc("/session/reset", h.HandleReset).Methods("POST")
	r.HandleFunc("/session/file/decode", h.HandleDecodeFile).Methods("POST")
	r.HandleFunc("/session/file/capture", h.HandleCaptureFile).Methods("POST")
	r.HandleFunc("/session/image", h.HandleImage).Methods("GET")
	r.HandleFunc("/devices", h.HandleDevices).Methods("GET")
	r.HandleFunc("/status/stream", h.HandleStatusStream).Methods("GET")
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.HandleFunc("/", h.ServeIndex).Methods("GET")

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully and stops the session so no device stays live.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.handlers.Session.Stop()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.handlers.Session.Stop()
		return err
	}
}

var (
	_ Session      = (*session.Controller)(nil)
	_ DeviceLister = (*device.Controller)(nil)
)
