package device

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/hw/lamp"
)

func testCameras() []VirtualCamera {
	return []VirtualCamera{
		{ID: "front", Label: "Front", Facing: FacingUser, Width: 64, Height: 48, FPS: 200},
		{ID: "rear", Label: "Rear", Facing: FacingEnvironment, Width: 80, Height: 60, FPS: 200},
	}
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *VirtualSource) {
	t.Helper()
	src := NewVirtualSource(testCameras(), true)
	c := NewController(src, opts...)
	t.Cleanup(c.Close)
	return c, src
}

// stalledSource hands out streams that never produce a frame.
type stalledSource struct{}

func (stalledSource) Devices(context.Context) ([]Info, error) { return nil, nil }
func (stalledSource) RequestStream(context.Context, Constraints) (Stream, error) {
	return &scriptedStream{track: newScriptedTrack()}, nil
}

// scriptedStream delivers queued frames, then fails with failErr or
// blocks until its track is stopped.
type scriptedStream struct {
	track   *scriptedTrack
	mu      sync.Mutex
	frames  []image.Image
	failErr error
}

func (s *scriptedStream) ID() string      { return "scripted" }
func (s *scriptedStream) Tracks() []Track { return []Track{s.track} }
func (s *scriptedStream) ReadFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		img := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return img, nil
	}
	failErr := s.failErr
	s.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.track.stopped:
		return nil, ErrStopped
	}
}

type scriptedTrack struct {
	once    sync.Once
	stopped chan struct{}
}

func newScriptedTrack() *scriptedTrack { return &scriptedTrack{stopped: make(chan struct{})} }

func (t *scriptedTrack) ID() string    { return "t1" }
func (t *scriptedTrack) Kind() string  { return "video" }
func (t *scriptedTrack) Label() string { return "scripted" }
func (t *scriptedTrack) Stop()         { t.once.Do(func() { close(t.stopped) }) }
func (t *scriptedTrack) Live() bool {
	select {
	case <-t.stopped:
		return false
	default:
		return true
	}
}

type singleStreamSource struct{ stream Stream }

func (s singleStreamSource) Devices(context.Context) ([]Info, error) { return nil, nil }
func (s singleStreamSource) RequestStream(context.Context, Constraints) (Stream, error) {
	return s.stream, nil
}

func TestParseFacing(t *testing.T) {
	cases := []struct {
		in   string
		want Facing
		ok   bool
	}{
		{"", FacingNone, true},
		{"none", FacingNone, true},
		{"user", FacingUser, true},
		{"Environment", FacingEnvironment, true},
		{"rear", FacingEnvironment, true},
		{"sideways", FacingNone, false},
	}
	for _, tc := range cases {
		got, err := ParseFacing(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want fault.Kind
	}{
		{ErrNotAllowed, fault.PermissionDenied},
		{ErrNotFound, fault.NotFound},
		{errors.Wrap(ErrNotReadable, "camera rear"), fault.Busy},
		{ErrOverconstrained, fault.Overconstrained},
		{ErrNotSupported, fault.Unsupported},
		{context.Canceled, fault.Cancelled},
		{errors.New("usb hub on fire"), fault.DeviceUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.err), tc.err.Error())
	}
}

func TestAcquireRelease(t *testing.T) {
	l := &lamp.Nop{}
	c, _ := newTestController(t, WithLamp(l))

	h, err := c.Acquire(context.Background(), Profile{Facing: FacingEnvironment})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, 1, h.LiveTracks())
	assert.Equal(t, 1, c.Live())
	assert.True(t, l.IsOn(), "lamp should be lit while a handle is live")

	c.Release(h)
	assert.True(t, h.Stopped())
	assert.Equal(t, 0, h.LiveTracks())
	assert.Equal(t, 0, c.Live())
	assert.False(t, l.IsOn(), "lamp should be off after release")

	// idempotent
	c.Release(h)
	c.Release(nil)
	assert.Equal(t, 0, c.Live())
}

func TestAcquire_Failures(t *testing.T) {
	t.Run("permission_denied", func(t *testing.T) {
		c, src := newTestController(t)
		src.SetPermission(false)
		_, err := c.Acquire(context.Background(), Profile{})
		assert.ErrorIs(t, err, fault.ErrPermissionDenied)
		assert.Equal(t, 0, c.Live())
	})
	t.Run("not_found", func(t *testing.T) {
		c := NewController(NewVirtualSource(nil, true))
		_, err := c.Acquire(context.Background(), Profile{})
		assert.ErrorIs(t, err, fault.ErrNotFound)
	})
	t.Run("busy", func(t *testing.T) {
		c, _ := newTestController(t)
		h, err := c.Acquire(context.Background(), Profile{Facing: FacingUser})
		require.NoError(t, err)
		_, err = c.Acquire(context.Background(), Profile{Facing: FacingUser})
		assert.ErrorIs(t, err, fault.ErrBusy)
		c.Release(h)
		h2, err := c.Acquire(context.Background(), Profile{Facing: FacingUser})
		require.NoError(t, err, "camera should be free again after release")
		c.Release(h2)
	})
	t.Run("unsupported_audio", func(t *testing.T) {
		c, _ := newTestController(t)
		_, err := c.Acquire(context.Background(), Profile{Audio: true})
		assert.ErrorIs(t, err, fault.ErrUnsupported)
	})
	t.Run("cancelled", func(t *testing.T) {
		c, _ := newTestController(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Acquire(ctx, Profile{})
		assert.ErrorIs(t, err, fault.ErrCancelled)
		assert.Equal(t, 0, c.Live())
	})
}

func TestVirtualSource_ExactFacing(t *testing.T) {
	src := NewVirtualSource([]VirtualCamera{{ID: "only", Facing: FacingUser}}, true)
	_, err := src.RequestStream(context.Background(), Constraints{Facing: FacingEnvironment, ExactFacing: true})
	assert.ErrorIs(t, err, ErrOverconstrained)

	s, err := src.RequestStream(context.Background(), Constraints{Facing: FacingEnvironment})
	require.NoError(t, err, "non-exact facing falls back to any camera")
	stopTracks(s)
}

func TestVirtualSource_DevicesReportInUse(t *testing.T) {
	src := NewVirtualSource(testCameras(), true)
	s, err := src.RequestStream(context.Background(), Constraints{Facing: FacingEnvironment})
	require.NoError(t, err)
	infos, err := src.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.False(t, infos[0].InUse)
	assert.True(t, infos[1].InUse)
	stopTracks(s)
	infos, _ = src.Devices(context.Background())
	assert.False(t, infos[1].InUse)
}

func TestAttach_ResolvesGeometry(t *testing.T) {
	c, _ := newTestController(t)
	h, err := c.Acquire(context.Background(), Profile{Facing: FacingEnvironment})
	require.NoError(t, err)

	s := NewSurface()
	g, err := c.Attach(context.Background(), h, s)
	require.NoError(t, err)
	assert.Equal(t, Geometry{Width: 80, Height: 60}, g)
	assert.Equal(t, g, s.Geometry())
	assert.NotNil(t, s.Frame())
	assert.True(t, s.Bound())

	c.Release(h)
	assert.False(t, s.Bound(), "release detaches the surface")
	assert.True(t, s.Geometry().Zero())
	_, _, err = s.NextFrame(context.Background(), 0)
	assert.ErrorIs(t, err, ErrDetached)
}

func TestAttach_SurfaceReusableAfterRelease(t *testing.T) {
	c, _ := newTestController(t)
	s := NewSurface()
	for i := 0; i < 3; i++ {
		h, err := c.Acquire(context.Background(), Profile{})
		require.NoError(t, err)
		_, err = c.Attach(context.Background(), h, s)
		require.NoError(t, err)
		c.Release(h)
	}
	assert.Equal(t, 0, c.Live())
}

func TestAttach_TimeoutIsDeviceUnknown(t *testing.T) {
	c := NewController(stalledSource{}, WithAttachTimeout(20*time.Millisecond))
	h, err := c.Acquire(context.Background(), Profile{})
	require.NoError(t, err)
	defer c.Release(h)

	_, err = c.Attach(context.Background(), h, NewSurface())
	assert.ErrorIs(t, err, fault.ErrDeviceUnknown)
}

func TestAttach_StoppedHandle(t *testing.T) {
	c, _ := newTestController(t)
	h, err := c.Acquire(context.Background(), Profile{})
	require.NoError(t, err)
	c.Release(h)
	_, err = c.Attach(context.Background(), h, NewSurface())
	assert.ErrorIs(t, err, fault.ErrDeviceUnknown)
}

func TestStreamFailureEndsSurface(t *testing.T) {
	boom := errors.New("device unplugged")
	stream := &scriptedStream{
		track:   newScriptedTrack(),
		frames:  []image.Image{image.NewRGBA(image.Rect(0, 0, 4, 4))},
		failErr: boom,
	}
	c := NewController(singleStreamSource{stream: stream})
	h, err := c.Acquire(context.Background(), Profile{})
	require.NoError(t, err)
	defer c.Release(h)

	s := NewSurface()
	_, err = c.Attach(context.Background(), h, s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = s.NextFrame(ctx, 1)
	assert.ErrorIs(t, err, boom)
}

func TestSurface_NextFrameWaitsForNewer(t *testing.T) {
	s := NewSurface()
	require.NoError(t, s.bind("h1"))
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	got := make(chan uint64, 1)
	go func() {
		_, seq, err := s.NextFrame(context.Background(), 0)
		if err == nil {
			got <- seq
		}
	}()
	s.publish("h1", img)
	select {
	case seq := <-got:
		assert.Equal(t, uint64(1), seq)
	case <-time.After(time.Second):
		t.Fatal("NextFrame did not wake up")
	}

	// stale owner cannot publish
	s.publish("other", img)
	_, seq, err := s.NextFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestSurface_BindRejectsSecondOwner(t *testing.T) {
	s := NewSurface()
	require.NoError(t, s.bind("h1"))
	assert.Error(t, s.bind("h2"))
	s.detach("h1")
	assert.NoError(t, s.bind("h2"))
}
