package device

import (
	"context"
	"image"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/fault"
)

// Facing is the direction a camera points relative to the operator.
type Facing string

const (
	FacingNone        Facing = ""
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// ParseFacing accepts "user", "environment", "" and "none".
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FacingNone, nil
	case "user", "front":
		return FacingUser, nil
	case "environment", "back", "rear":
		return FacingEnvironment, nil
	default:
		return FacingNone, errors.Errorf("unknown facing %q", s)
	}
}

// Profile is what a session asks for when acquiring a device.
// It is a value type; every acquisition attempt gets its own copy.
type Profile struct {
	Facing      Facing
	ExactFacing bool // no fallback to another facing
	Audio       bool
	Width       int // preferred frame width, 0 = any
	Height      int // preferred frame height, 0 = any
}

// Constraints are handed to the Source. Facing is a preference unless
// ExactFacing is set, in which case a mismatch is an error.
type Constraints struct {
	Facing      Facing
	ExactFacing bool
	Width       int
	Height      int
	Audio       bool
}

// Constraints converts the profile into source constraints.
func (p Profile) Constraints() Constraints {
	return Constraints{
		Facing:      p.Facing,
		ExactFacing: p.ExactFacing,
		Width:       p.Width,
		Height:      p.Height,
		Audio:       p.Audio,
	}
}

// Geometry is the pixel size of the frames a stream produces.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Zero reports whether either dimension is unknown.
func (g Geometry) Zero() bool { return g.Width <= 0 || g.Height <= 0 }

func geometryOf(img image.Image) Geometry {
	if img == nil {
		return Geometry{}
	}
	b := img.Bounds()
	return Geometry{Width: b.Dx(), Height: b.Dy()}
}

// Track is one hardware track of a stream.
type Track interface {
	ID() string
	Kind() string // "video" or "audio"
	Label() string
	Live() bool
	Stop()
}

// Stream is a live device stream as returned by a Source.
type Stream interface {
	ID() string
	Tracks() []Track
	// ReadFrame blocks until the device delivers its next frame.
	// It returns ErrStopped once the video track is stopped.
	ReadFrame(ctx context.Context) (image.Image, error)
}

// Info describes a camera a Source can open.
type Info struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	InUse  bool   `json:"in_use"`
}

// Source is the device acquisition API.
type Source interface {
	RequestStream(ctx context.Context, c Constraints) (Stream, error)
	Devices(ctx context.Context) ([]Info, error)
}

// Failure categories a Source reports. They map 1:1 onto fault kinds.
var (
	ErrNotAllowed      = errors.New("NotAllowedError: permission to use the camera was denied")
	ErrNotFound        = errors.New("NotFoundError: no camera matches the request")
	ErrNotReadable     = errors.New("NotReadableError: camera is in use or could not be started")
	ErrOverconstrained = errors.New("OverconstrainedError: constraints cannot be satisfied")
	ErrNotSupported    = errors.New("NotSupportedError: request is not supported")

	ErrStopped  = errors.New("stream stopped")
	ErrDetached = errors.New("surface detached")
)

// classify maps a Source failure onto the fault taxonomy.
func classify(err error) fault.Kind {
	switch {
	case errors.Is(err, ErrNotAllowed):
		return fault.PermissionDenied
	case errors.Is(err, ErrNotFound):
		return fault.NotFound
	case errors.Is(err, ErrNotReadable):
		return fault.Busy
	case errors.Is(err, ErrOverconstrained):
		return fault.Overconstrained
	case errors.Is(err, ErrNotSupported):
		return fault.Unsupported
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fault.Cancelled
	default:
		return fault.DeviceUnknown
	}
}

// stopTracks stops every track of s.
func stopTracks(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
