package web

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/hw/device"
	"github.com/cjeanneret/capscan/internal/logic/capture"
	"github.com/cjeanneret/capscan/internal/logic/decode"
	"github.com/cjeanneret/capscan/internal/logic/session"
)

// DefaultMaxUpload caps file uploads for the file fallback paths.
const DefaultMaxUpload = 16 << 20

// Session is the session surface the handlers drive.
type Session interface {
	SetMode(m session.Mode) error
	Start(ctx context.Context) error
	Capture(ctx context.Context) (capture.Image, error)
	Stop()
	Retake() error
	Reset() error
	DecodeFromFile(ctx context.Context, p session.FilePayload) (decode.Result, error)
	CaptureFromFile(p session.FilePayload) (capture.Image, error)
	Snapshot() session.Snapshot
}

// DeviceLister lists the cameras that can be opened.
type DeviceLister interface {
	Devices(ctx context.Context) ([]device.Info, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     Session
	Devices     DeviceLister
	MaxUpload   int64
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If devices is nil, GET /devices returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, sess Session, devices DeviceLister, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     sess,
		Devices:     devices,
		MaxUpload:   DefaultMaxUpload,
		staticFS:    staticFS,
	}
}

// imageView describes a held image without its bytes.
type imageView struct {
	Encoding   string    `json:"encoding"`
	Quality    float64   `json:"quality"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source"`
	URL        string    `json:"url"`
}

func newImageView(img capture.Image) imageView {
	return imageView{
		Encoding:   img.Encoding,
		Quality:    img.Quality,
		Width:      img.Width,
		Height:     img.Height,
		CapturedAt: img.CapturedAt,
		Source:     img.Source,
		URL:        "/session/image",
	}
}

// sessionView is the JSON shape of GET /session and of every successful
// session command.
type sessionView struct {
	Mode       session.Mode    `json:"mode"`
	State      session.State   `json:"state"`
	Attempt    string          `json:"attempt,omitempty"`
	HandleID   string          `json:"handle_id,omitempty"`
	Geometry   device.Geometry `json:"geometry"`
	DecodeLoop bool            `json:"decode_loop"`
	Misses     int             `json:"misses"`
	Image      *imageView      `json:"image,omitempty"`
	Result     *decode.Result  `json:"result,omitempty"`
	Error      *errorBody      `json:"error,omitempty"`
}

func newSessionView(s session.Snapshot) sessionView {
	v := sessionView{
		Mode:       s.Mode,
		State:      s.State,
		Attempt:    s.Attempt,
		HandleID:   s.HandleID,
		Geometry:   s.Geometry,
		DecodeLoop: s.Scanning,
		Misses:     s.Misses,
		Result:     s.Result,
	}
	if s.Image != nil {
		iv := newImageView(*s.Image)
		v.Image = &iv
	}
	if s.Err != nil {
		body := newErrorBody(s.Err)
		v.Error = &body
	}
	return v
}

// statusFor maps a fault kind onto an HTTP status.
func statusFor(k fault.Kind) int {
	switch k {
	case fault.InvalidState:
		return http.StatusConflict
	case fault.InvalidFileType:
		return http.StatusUnsupportedMediaType
	case fault.NoCodeFound:
		return http.StatusUnprocessableEntity
	case fault.NotReady:
		return http.StatusTooEarly
	case fault.PermissionDenied:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Busy:
		return http.StatusLocked
	case fault.Overconstrained:
		return http.StatusBadRequest
	case fault.Cancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(errors.Wrap(err, "web: encode response"))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	errorBody
}

func writeError(w http.ResponseWriter, err error) {
	body := newErrorBody(err)
	writeJSON(w, statusFor(body.Kind), errorResponse{Error: err.Error(), errorBody: body})
}

func (h *Handlers) writeSession(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, newSessionView(h.Session.Snapshot()))
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleSession handles GET /session.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// HandleMode handles POST /session/mode with {"mode":"photo|qr|barcode"}.
func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	m, err := session.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.SetMode(m); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

// HandleStart handles POST /session/start. It returns once the stream is
// ready (photo) or the decode loop runs (scan modes).
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

// HandleCapture handles POST /session/capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Session.Capture(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

// HandleStop handles POST /session/stop. It always succeeds.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.Session.Stop()
	h.writeSession(w)
}

// HandleRetake handles POST /session/retake.
func (h *Handlers) HandleRetake(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Retake(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

// HandleReset handles POST /session/reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Reset(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

// HandleDecodeFile handles POST /session/file/decode.
func (h *Handlers) HandleDecodeFile(w http.ResponseWriter, r *http.Request) {
	p, err := h.readPayload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Session.DecodeFromFile(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

// HandleCaptureFile handles POST /session/file/capture.
func (h *Handlers) HandleCaptureFile(w http.ResponseWriter, r *http.Request) {
	p, err := h.readPayload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Session.CaptureFromFile(p); err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w)
}

type dataURIRequest struct {
	DataURI string `json:"data_uri"`
	Name    string `json:"name"`
}

// readPayload accepts a multipart form with a "file" field or a JSON body
// {"data_uri": "data:image/png;base64,..."}.
func (h *Handlers) readPayload(w http.ResponseWriter, r *http.Request) (session.FilePayload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUpload)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var req dataURIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return session.FilePayload{}, fault.New(fault.InvalidFileType, "web.upload", err)
		}
		p, err := session.ParseDataURI(req.DataURI)
		if err != nil {
			return session.FilePayload{}, err
		}
		p.Name = req.Name
		return p, nil
	}

	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		return session.FilePayload{}, fault.New(fault.InvalidFileType, "web.upload", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return session.FilePayload{}, fault.New(fault.InvalidFileType, "web.upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return session.FilePayload{}, fault.New(fault.InvalidFileType, "web.upload", err)
	}
	return session.FilePayload{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// HandleImage handles GET /session/image: the held still, if any.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	img := h.Session.Snapshot().Image
	if img == nil {
		http.Error(w, "no image", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", img.Encoding)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img.Payload)
}

// HandleDevices handles GET /devices.
func (h *Handlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	if h.Devices == nil {
		http.Error(w, "device listing not configured", http.StatusServiceUnavailable)
		return
	}
	infos, err := h.Devices.Devices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
