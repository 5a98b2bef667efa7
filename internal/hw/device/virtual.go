package device

import (
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/cjeanneret/capscan/internal/debug"
)

// VirtualCamera describes a camera served by VirtualSource.
type VirtualCamera struct {
	ID        string
	Label     string
	Facing    Facing
	Width     int
	Height    int
	FPS       int
	FramesDir string // images replayed in name order; empty = test card
}

// VirtualSource serves cameras from image files or a generated test
// card. It behaves like a browser media API: permission can be denied,
// a camera can only be opened once, and an exact facing that no camera
// has is overconstrained.
type VirtualSource struct {
	mu      sync.Mutex
	cameras []VirtualCamera
	allow   bool
	open    map[string]bool
}

func NewVirtualSource(cameras []VirtualCamera, allow bool) *VirtualSource {
	return &VirtualSource{
		cameras: cameras,
		allow:   allow,
		open:    make(map[string]bool),
	}
}

// SetPermission grants or revokes camera permission.
func (v *VirtualSource) SetPermission(allow bool) {
	v.mu.Lock()
	v.allow = allow
	v.mu.Unlock()
}

func (v *VirtualSource) Devices(ctx context.Context) ([]Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	infos := make([]Info, 0, len(v.cameras))
	for _, c := range v.cameras {
		infos = append(infos, Info{
			ID: c.ID, Label: c.Label, Facing: c.Facing,
			Width: c.Width, Height: c.Height, InUse: v.open[c.ID],
		})
	}
	return infos, nil
}

func (v *VirtualSource) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if c.Audio {
		return nil, errors.Wrap(ErrNotSupported, "virtual cameras have no audio")
	}

	v.mu.Lock()
	if !v.allow {
		v.mu.Unlock()
		return nil, ErrNotAllowed
	}
	cam, err := v.pick(c)
	if err != nil {
		v.mu.Unlock()
		return nil, err
	}
	if v.open[cam.ID] {
		v.mu.Unlock()
		return nil, errors.Wrapf(ErrNotReadable, "camera %s", cam.ID)
	}
	v.open[cam.ID] = true
	v.mu.Unlock()

	frames, err := loadFrames(cam)
	if err != nil {
		v.release(cam.ID)
		return nil, errors.Wrapf(ErrNotReadable, "camera %s: %v", cam.ID, err)
	}

	fps := cam.FPS
	if fps <= 0 {
		fps = 15
	}
	s := &virtualStream{
		id:     uuid.NewString(),
		frames: frames,
		period: time.Second / time.Duration(fps),
	}
	s.track = &virtualTrack{
		id:      uuid.NewString(),
		label:   cam.Label,
		stopped: make(chan struct{}),
		onStop:  func() { v.release(cam.ID) },
	}
	debug.Verbose("Virtual camera %s opened (%d frames, %d fps)", cam.ID, len(frames), fps)
	return s, nil
}

func (v *VirtualSource) release(id string) {
	v.mu.Lock()
	delete(v.open, id)
	v.mu.Unlock()
}

// pick selects a camera for c. Caller holds v.mu.
func (v *VirtualSource) pick(c Constraints) (VirtualCamera, error) {
	if len(v.cameras) == 0 {
		return VirtualCamera{}, ErrNotFound
	}
	if c.Facing == FacingNone {
		return v.cameras[0], nil
	}
	for _, cam := range v.cameras {
		if cam.Facing == c.Facing {
			return cam, nil
		}
	}
	if c.ExactFacing {
		return VirtualCamera{}, errors.Wrapf(ErrOverconstrained, "no %s-facing camera", c.Facing)
	}
	return v.cameras[0], nil
}

var frameExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
}

func loadFrames(cam VirtualCamera) ([]image.Image, error) {
	if cam.FramesDir == "" {
		return []image.Image{TestCard(cam.Width, cam.Height)}, nil
	}
	entries, err := os.ReadDir(cam.FramesDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && frameExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, errors.Errorf("no images in %s", cam.FramesDir)
	}
	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(cam.FramesDir, name))
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", name)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// TestCard draws vertical colour bars of the given size.
func TestCard(width, height int) image.Image {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	bars := []color.RGBA{
		{192, 192, 192, 255}, {192, 192, 0, 255}, {0, 192, 192, 255}, {0, 192, 0, 255},
		{192, 0, 192, 255}, {192, 0, 0, 255}, {0, 0, 192, 255},
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		c := bars[x*len(bars)/width]
		for y := 0; y < height; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type virtualStream struct {
	id     string
	frames []image.Image
	period time.Duration
	track  *virtualTrack

	mu   sync.Mutex
	next int
}

func (s *virtualStream) ID() string      { return s.id }
func (s *virtualStream) Tracks() []Track { return []Track{s.track} }

func (s *virtualStream) ReadFrame(ctx context.Context) (image.Image, error) {
	timer := time.NewTimer(s.period)
	defer timer.Stop()
	select {
	case <-s.track.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	if !s.track.Live() {
		return nil, ErrStopped
	}
	s.mu.Lock()
	img := s.frames[s.next%len(s.frames)]
	s.next++
	s.mu.Unlock()
	return img, nil
}

type virtualTrack struct {
	id      string
	label   string
	once    sync.Once
	stopped chan struct{}
	onStop  func()
}

func (t *virtualTrack) ID() string    { return t.id }
func (t *virtualTrack) Kind() string  { return "video" }
func (t *virtualTrack) Label() string { return t.label }

func (t *virtualTrack) Live() bool {
	select {
	case <-t.stopped:
		return false
	default:
		return true
	}
}

func (t *virtualTrack) Stop() {
	t.once.Do(func() {
		close(t.stopped)
		if t.onStop != nil {
			t.onStop()
		}
	})
}
