package device

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/hw/lamp"
	"github.com/cjeanneret/capscan/internal/telemetry"
)

const defaultAttachTimeout = 3 * time.Second

// Controller acquires, attaches and releases device streams. It keeps
// track of every handle it gave out that has not been released yet.
type Controller struct {
	source        Source
	lamp          lamp.Lamp
	attachTimeout time.Duration

	mu   sync.Mutex
	live map[string]*Handle
}

// Option configures a Controller.
type Option func(*Controller)

// WithLamp lights l while at least one handle is live.
func WithLamp(l lamp.Lamp) Option {
	return func(c *Controller) { c.lamp = l }
}

// WithAttachTimeout bounds how long Attach waits for the first frame.
func WithAttachTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.attachTimeout = d
		}
	}
}

func NewController(src Source, opts ...Option) *Controller {
	c := &Controller{
		source:        src,
		lamp:          &lamp.Nop{},
		attachTimeout: defaultAttachTimeout,
		live:          make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire requests a stream matching p. Failures are *fault.Error values
// with a device kind. The caller owns the handle and must Release it.
func (c *Controller) Acquire(ctx context.Context, p Profile) (h *Handle, err error) {
	ctx, span := telemetry.StartSpan(ctx, "device.acquire", telemetry.String("facing", string(p.Facing)))
	defer func() { telemetry.End(span, err) }()

	if err := ctx.Err(); err != nil {
		return nil, fault.New(fault.Cancelled, "device.acquire", err)
	}
	debug.PrintStruct("Device profile", p)

	stream, err := c.source.RequestStream(ctx, p.Constraints())
	if err != nil {
		return nil, fault.New(classify(err), "device.acquire", err)
	}
	// The request may have completed after the caller gave up.
	if err := ctx.Err(); err != nil {
		stopTracks(stream)
		return nil, fault.New(fault.Cancelled, "device.acquire", err)
	}

	h = newHandle(stream, p)
	c.mu.Lock()
	c.live[h.id] = h
	first := len(c.live) == 1
	c.mu.Unlock()
	if first {
		if lerr := c.lamp.On(); lerr != nil {
			debug.Error(lerr)
		}
	}
	debug.Device("acquire", h.id)
	return h, nil
}

// Release stops every track of h before returning. It is safe to call
// with nil, twice, or on a handle that is already stopped.
func (c *Controller) Release(h *Handle) {
	if h == nil {
		return
	}
	if h.stop() {
		debug.Device("release", h.id)
	}

	c.mu.Lock()
	_, tracked := c.live[h.id]
	delete(c.live, h.id)
	last := tracked && len(c.live) == 0
	c.mu.Unlock()
	if last {
		if err := c.lamp.Off(); err != nil {
			debug.Error(err)
		}
	}
}

// Attach binds h to s and waits for the first frame. The returned
// geometry is the earliest point at which frames may be read.
func (c *Controller) Attach(ctx context.Context, h *Handle, s *Surface) (g Geometry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "device.attach")
	defer func() { telemetry.End(span, err) }()

	if h == nil || h.Stopped() {
		return Geometry{}, fault.Newf(fault.DeviceUnknown, "device.attach", "handle is not live")
	}
	if err := s.bind(h.id); err != nil {
		return Geometry{}, fault.New(fault.DeviceUnknown, "device.attach", err)
	}
	h.startPump(s)

	waitCtx, cancel := context.WithTimeout(ctx, c.attachTimeout)
	defer cancel()
	var seq uint64
	for g.Zero() {
		img, next, err := s.NextFrame(waitCtx, seq)
		if err != nil {
			if ctx.Err() != nil {
				return Geometry{}, fault.New(fault.Cancelled, "device.attach", ctx.Err())
			}
			return Geometry{}, fault.Newf(fault.DeviceUnknown, "device.attach", "no frame geometry within %s: %v", c.attachTimeout, err)
		}
		g, seq = geometryOf(img), next
	}
	debug.Verbose("Device %s attached: %dx%d", h.id, g.Width, g.Height)
	return g, nil
}

// Live returns how many handles are acquired and not yet released.
func (c *Controller) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Devices lists the cameras of the underlying source.
func (c *Controller) Devices(ctx context.Context) ([]Info, error) {
	return c.source.Devices(ctx)
}

// Close releases every handle still live.
func (c *Controller) Close() {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.live))
	for _, h := range c.live {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		c.Release(h)
	}
}
