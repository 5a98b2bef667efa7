package session

import (
	"bytes"
	"context"
	"image"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/hw/device"
	"github.com/cjeanneret/capscan/internal/logic/capture"
	"github.com/cjeanneret/capscan/internal/logic/decode"
	"github.com/cjeanneret/capscan/internal/telemetry"
)

// Streams acquires, attaches and releases device streams.
type Streams interface {
	Acquire(ctx context.Context, p device.Profile) (*device.Handle, error)
	Attach(ctx context.Context, h *device.Handle, s *device.Surface) (device.Geometry, error)
	Release(h *device.Handle)
}

// Capturer turns a surface frame or an image file into a still.
type Capturer interface {
	Snapshot(s capture.Frames, expected device.Geometry) (capture.Image, error)
	FromFile(contentType string, data []byte) (capture.Image, error)
}

// Decoder runs live decode loops and static decodes.
type Decoder interface {
	Loop(src decode.Frames, formats []decode.Format, cb decode.Callbacks) *decode.CancelToken
	DecodeStatic(ctx context.Context, data []byte, formats []decode.Format) (decode.Result, error)
}

// Consumer receives what a session produces. Callbacks may run on the
// decode goroutine and must not call back into the Controller.
type Consumer interface {
	OnCaptured(img capture.Image)
	OnScanned(res decode.Result)
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are skipped.
type ConsumerFuncs struct {
	Captured func(capture.Image)
	Scanned  func(decode.Result)
}

func (f ConsumerFuncs) OnCaptured(img capture.Image) {
	if f.Captured != nil {
		f.Captured(img)
	}
}

func (f ConsumerFuncs) OnScanned(res decode.Result) {
	if f.Scanned != nil {
		f.Scanned(res)
	}
}

// Transition describes one state change.
type Transition struct {
	Attempt string    `json:"attempt"`
	Mode    Mode      `json:"mode"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Err     error     `json:"-"`
	At      time.Time `json:"at"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Mode     Mode            `json:"mode"`
	State    State           `json:"state"`
	Attempt  string          `json:"attempt,omitempty"`
	HandleID string          `json:"handle_id,omitempty"`
	Geometry device.Geometry `json:"geometry"`
	Image    *capture.Image  `json:"image,omitempty"`
	Result   *decode.Result  `json:"result,omitempty"`
	Err      error           `json:"-"`
	Misses   int             `json:"misses"`
	Scanning bool            `json:"decode_loop"`
}

// Controller owns the session state machine. It holds at most one
// device handle and at most one decode loop at any time.
type Controller struct {
	streams   Streams
	capturer  Capturer
	decoder   Decoder
	consumer  Consumer
	observers []func(Transition)
	surface   *device.Surface
	formats   map[Mode][]decode.Format
	photo     device.Profile
	scan      device.Profile

	stopMu sync.Mutex // serializes teardown

	mu       sync.Mutex
	mode     Mode
	state    State
	attempt  string
	gen      uint64 // bumped by every teardown; stale work compares against it
	handle   *device.Handle
	geometry device.Geometry
	loop     *decode.CancelToken
	image    *capture.Image
	result   *decode.Result
	err      error
	misses   int
	closed   bool

	// in-flight Start or DecodeFromFile
	cancelOp context.CancelFunc
	opDone   chan struct{}

	pending []Transition
}

// Option configures a Controller.
type Option func(*Controller)

// WithConsumer sets who receives captured images and scan results.
func WithConsumer(c Consumer) Option {
	return func(ctl *Controller) { ctl.consumer = c }
}

// WithObserver registers fn for every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(ctl *Controller) { ctl.observers = append(ctl.observers, fn) }
}

// WithFormats sets the symbologies decoded in mode m.
func WithFormats(m Mode, formats []decode.Format) Option {
	return func(ctl *Controller) {
		if len(formats) > 0 {
			ctl.formats[m] = formats
		}
	}
}

// WithPhotoFacing sets the camera facing used in photo mode.
// Scan modes always ask for the environment-facing camera.
func WithPhotoFacing(f device.Facing) Option {
	return func(ctl *Controller) { ctl.photo.Facing = f }
}

// WithExactFacing makes a facing mismatch fail with Overconstrained
// instead of falling back to another camera.
func WithExactFacing(exact bool) Option {
	return func(ctl *Controller) {
		ctl.photo.ExactFacing = exact
		ctl.scan.ExactFacing = exact
	}
}

// WithFrameSize sets the preferred frame size for every profile.
func WithFrameSize(width, height int) Option {
	return func(ctl *Controller) {
		ctl.photo.Width, ctl.photo.Height = width, height
		ctl.scan.Width, ctl.scan.Height = width, height
	}
}

// New creates an idle controller in photo mode.
func New(streams Streams, capturer Capturer, decoder Decoder, opts ...Option) *Controller {
	c := &Controller{
		streams:  streams,
		capturer: capturer,
		decoder:  decoder,
		consumer: ConsumerFuncs{},
		surface:  device.NewSurface(),
		formats: map[Mode][]decode.Format{
			ModePhoto:       decode.AllFormats(),
			ModeQRScan:      {decode.FormatQRCode},
			ModeBarcodeScan: decode.LinearFormats,
		},
		photo: device.Profile{Facing: device.FacingEnvironment},
		scan:  device.Profile{Facing: device.FacingEnvironment},
		mode:  ModePhoto,
		state: Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Surface returns the render surface streams are attached to.
func (c *Controller) Surface() *device.Surface { return c.surface }

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Mode:     c.mode,
		State:    c.state,
		Attempt:  c.attempt,
		Geometry: c.geometry,
		Image:    c.image,
		Result:   c.result,
		Err:      c.err,
		Misses:   c.misses,
		Scanning: c.state == Scanning && c.loop != nil,
	}
	if c.handle != nil {
		s.HandleID = c.handle.ID()
	}
	return s
}

// setState records a transition. Caller holds c.mu; observers run in
// unlockAndNotify.
func (c *Controller) setState(to State) {
	if c.state == to {
		return
	}
	t := Transition{Attempt: c.attempt, Mode: c.mode, From: c.state, To: to, Err: c.err, At: time.Now()}
	c.state = to
	c.pending = append(c.pending, t)
}

func (c *Controller) unlockAndNotify() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, t := range pending {
		debug.Transition(t.Attempt, t.From.String(), t.To.String())
		for _, fn := range c.observers {
			fn(t)
		}
	}
}

func invalidState(op string, s State) error {
	return fault.Newf(fault.InvalidState, op, "not allowed in state %s", s)
}

func (c *Controller) profileFor(m Mode) device.Profile {
	if m.Scans() {
		return c.scan
	}
	return c.photo
}

// beginOp registers an in-flight Start or DecodeFromFile so Stop can
// cancel it and wait for it. It also hands back the token of a loop that
// ended on its own; the caller cancels it after unlocking so the old
// loop has released its device first. Caller holds c.mu.
func (c *Controller) beginOp(ctx context.Context) (context.Context, uint64, *decode.CancelToken, func()) {
	stale := c.loop
	c.loop = nil
	c.gen++
	gen := c.gen
	c.attempt = ulid.Make().String()
	c.image, c.result, c.err, c.misses = nil, nil, nil, 0

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelOp, c.opDone = cancel, done
	end := func() {
		c.mu.Lock()
		if c.opDone == done {
			c.cancelOp, c.opDone = nil, nil
		}
		c.mu.Unlock()
		cancel()
		close(done)
	}
	return opCtx, gen, stale, end
}

// fail moves the session to Failed, or back to Idle if the operation was
// merely cancelled. Stale generations leave the state alone.
func (c *Controller) fail(gen uint64, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return fault.New(fault.Cancelled, "session", err)
	}
	if errors.Is(err, fault.ErrCancelled) {
		c.setState(Idle)
	} else {
		c.err = err
		c.setState(Failed)
		debug.Error(err)
	}
	c.unlockAndNotify()
	return err
}

// SetMode tears down any active session, discards held artifacts and
// switches to m. The old device is released before SetMode returns.
func (c *Controller) SetMode(m Mode) error {
	if !m.valid() {
		return fault.Newf(fault.InvalidState, "session.set_mode", "unknown mode %d", m)
	}
	for {
		c.Stop()
		c.mu.Lock()
		if c.closed {
			s := c.state
			c.mu.Unlock()
			return invalidState("session.set_mode", s)
		}
		if !c.state.Active() {
			break
		}
		// a Start slipped in between Stop and here
		c.mu.Unlock()
	}
	c.mode = m
	c.image, c.result, c.err, c.misses = nil, nil, nil, 0
	c.setState(Idle)
	c.attempt, c.geometry = "", device.Geometry{}
	c.unlockAndNotify()
	debug.Live("Session mode: %s", m)
	return nil
}

// Mode returns the selected mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Start acquires a device for the current mode. Photo mode ends in
// StreamReady and waits for Capture; scan modes end in Scanning with a
// decode loop running.
func (c *Controller) Start(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.start")
	defer func() { telemetry.End(span, err) }()

	c.mu.Lock()
	if c.closed || (c.state != Idle && c.state != Failed) {
		s := c.state
		c.mu.Unlock()
		return invalidState("session.start", s)
	}
	opCtx, gen, stale, end := c.beginOp(ctx)
	defer end()
	mode := c.mode
	span.SetAttributes(telemetry.String("mode", mode.String()), telemetry.String("attempt", c.attempt))
	c.setState(Acquiring)
	c.unlockAndNotify()
	stale.Cancel()

	h, err := c.streams.Acquire(opCtx, c.profileFor(mode))
	if err != nil {
		return c.fail(gen, err)
	}
	geom, err := c.streams.Attach(opCtx, h, c.surface)
	if err != nil {
		c.streams.Release(h)
		return c.fail(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.streams.Release(h)
		return fault.New(fault.Cancelled, "session.start", nil)
	}
	c.handle, c.geometry = h, geom
	c.setState(StreamReady)
	if mode.Scans() {
		c.loop = c.decoder.Loop(c.surface, c.formats[mode], decode.Callbacks{
			OnResult: func(r decode.Result) { c.onScanned(gen, r) },
			OnMiss:   func(seq uint64) { c.onMiss(gen) },
			OnFatal:  func(err error) { c.onLoopFatal(gen, err) },
		})
		c.setState(Scanning)
	}
	c.unlockAndNotify()
	return nil
}

func (c *Controller) onScanned(gen uint64, r decode.Result) {
	c.mu.Lock()
	if c.gen != gen || c.state != Scanning {
		c.mu.Unlock()
		return
	}
	c.releaseLocked()
	c.result = &r
	c.setState(Scanned)
	c.unlockAndNotify()

	debug.Info("Scanned %s: %q", r.Format, r.Text)
	c.consumer.OnScanned(r)
}

func (c *Controller) onMiss(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.misses++
	}
	c.mu.Unlock()
}

func (c *Controller) onLoopFatal(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state != Scanning {
		c.mu.Unlock()
		return
	}
	c.releaseLocked()
	c.err = err
	c.setState(Failed)
	c.unlockAndNotify()
	debug.Error(err)
}

// releaseLocked gives the device back before the next state is
// published, so observers never see a terminal state with a live device.
// Caller holds c.mu.
func (c *Controller) releaseLocked() {
	c.streams.Release(c.handle)
	c.handle, c.geometry = nil, device.Geometry{}
}

// Capture snapshots the live stream and releases the device. A
// fault.NotReady error leaves the session in StreamReady so the caller
// can retry shortly.
func (c *Controller) Capture(ctx context.Context) (img capture.Image, err error) {
	_, span := telemetry.StartSpan(ctx, "session.capture")
	defer func() { telemetry.End(span, err) }()

	c.mu.Lock()
	if c.state != StreamReady || c.mode != ModePhoto {
		s := c.state
		c.mu.Unlock()
		return capture.Image{}, invalidState("session.capture", s)
	}
	gen, geom := c.gen, c.geometry
	c.setState(Capturing)
	c.unlockAndNotify()

	img, err = c.capturer.Snapshot(c.surface, geom)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return capture.Image{}, fault.New(fault.Cancelled, "session.capture", nil)
	}
	if errors.Is(err, fault.ErrNotReady) {
		c.setState(StreamReady)
		c.unlockAndNotify()
		return capture.Image{}, err
	}
	c.releaseLocked()
	if err != nil {
		c.err = err
		c.setState(Failed)
		c.unlockAndNotify()
		return capture.Image{}, err
	}
	c.image = &img
	c.setState(Captured)
	c.unlockAndNotify()

	c.consumer.OnCaptured(img)
	return img, nil
}

// Stop is the single teardown path. It cancels an in-flight Start,
// stops the decode loop, releases the device and returns to Idle. It is
// a no-op when nothing is active and safe to call any number of times.
// After Stop returns no decode callback fires for the stopped session.
func (c *Controller) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	for {
		c.mu.Lock()
		if c.opDone == nil {
			break
		}
		done := c.opDone
		c.cancelOp()
		c.gen++
		c.mu.Unlock()
		<-done
	}

	c.gen++
	loop := c.loop
	c.loop = nil
	c.mu.Unlock()

	// stop reading frames before the stream goes away
	loop.Cancel()

	c.mu.Lock()
	c.releaseLocked()
	if c.state.Active() {
		c.setState(Idle)
	}
	c.unlockAndNotify()
}

// Retake discards the held image or scan result and returns to Idle.
func (c *Controller) Retake() error {
	return c.discard("session.retake", Captured, Scanned)
}

// Reset is Retake that also clears a Failed session.
func (c *Controller) Reset() error {
	return c.discard("session.reset", Idle, Captured, Scanned, Failed)
}

func (c *Controller) discard(op string, allowed ...State) error {
	c.mu.Lock()
	s := c.state
	ok := false
	for _, a := range allowed {
		if s == a {
			ok = true
		}
	}
	c.mu.Unlock()
	if !ok {
		return invalidState(op, s)
	}

	c.Stop()
	c.mu.Lock()
	if c.state.Active() {
		s := c.state
		c.mu.Unlock()
		return invalidState(op, s)
	}
	c.image, c.result, c.err, c.misses = nil, nil, nil, 0
	c.setState(Idle)
	c.unlockAndNotify()
	return nil
}

// DecodeFromFile decodes a user-chosen image without touching the
// device. Nothing found moves the session to Failed with NoCodeFound; a
// file that is not a readable image is rejected before any state change.
func (c *Controller) DecodeFromFile(ctx context.Context, p FilePayload) (res decode.Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.decode_file", telemetry.Int("bytes", len(p.Data)))
	defer func() { telemetry.End(span, err) }()

	if _, err := p.MediaType(); err != nil {
		return decode.Result{}, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(p.Data)); err != nil {
		return decode.Result{}, fault.Newf(fault.InvalidFileType, "input.validate", "%s is not a readable image: %v", p.displayName(), err)
	}

	c.mu.Lock()
	if c.closed || (c.state != Idle && c.state != Failed) {
		s := c.state
		c.mu.Unlock()
		return decode.Result{}, invalidState("session.decode_file", s)
	}
	opCtx, gen, stale, end := c.beginOp(ctx)
	defer end()
	formats := c.formats[c.mode]
	c.setState(Scanning)
	c.unlockAndNotify()
	stale.Cancel()

	res, err = c.decoder.DecodeStatic(opCtx, p.Data, formats)
	if err != nil {
		return decode.Result{}, c.fail(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return decode.Result{}, fault.New(fault.Cancelled, "session.decode_file", nil)
	}
	c.result = &res
	c.setState(Scanned)
	c.unlockAndNotify()

	debug.Info("Decoded %s from file: %q", res.Format, res.Text)
	c.consumer.OnScanned(res)
	return res, nil
}

// CaptureFromFile stores a user-chosen image as the captured still
// (photo mode only). An invalid file leaves the session untouched.
func (c *Controller) CaptureFromFile(p FilePayload) (capture.Image, error) {
	ct, err := p.MediaType()
	if err != nil {
		return capture.Image{}, err
	}
	img, err := c.capturer.FromFile(ct, p.Data)
	if err != nil {
		return capture.Image{}, err
	}

	c.mu.Lock()
	if c.closed || c.mode != ModePhoto {
		s := c.state
		c.mu.Unlock()
		return capture.Image{}, invalidState("session.capture_file", s)
	}
	switch c.state {
	case Idle, Failed, Captured:
	default:
		s := c.state
		c.mu.Unlock()
		return capture.Image{}, invalidState("session.capture_file", s)
	}
	c.gen++
	c.attempt = ulid.Make().String()
	c.image, c.result, c.err = &img, nil, nil
	if c.state == Captured {
		// replacing a still is still a transition for observers
		c.setState(Idle)
	}
	c.setState(Captured)
	c.unlockAndNotify()

	c.consumer.OnCaptured(img)
	return img, nil
}

// Close ends the session's scoped lifetime: it tears down like Stop and
// rejects every later operation. Owners defer it.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
}
