package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle owns exactly one live stream. Once stopped it stays stopped;
// a new acquisition always creates a new Handle.
type Handle struct {
	id      string
	stream  Stream
	profile Profile

	stopOnce sync.Once
	stopped  atomic.Bool

	mu         sync.Mutex
	surface    *Surface
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

func newHandle(s Stream, p Profile) *Handle {
	return &Handle{id: uuid.NewString(), stream: s, profile: p}
}

func (h *Handle) ID() string       { return h.id }
func (h *Handle) Profile() Profile { return h.profile }
func (h *Handle) Tracks() []Track  { return h.stream.Tracks() }
func (h *Handle) Stopped() bool    { return h.stopped.Load() }

// LiveTracks counts tracks that are still delivering.
func (h *Handle) LiveTracks() int {
	n := 0
	for _, t := range h.stream.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}

// startPump feeds frames from the stream into s until the handle stops.
func (h *Handle) startPump(s *Surface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pumpDone != nil || h.Stopped() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.surface = s
	h.pumpCancel = cancel
	h.pumpDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		for {
			img, err := h.stream.ReadFrame(ctx)
			if err != nil {
				if ctx.Err() == nil && !h.Stopped() {
					s.end(h.id, err)
				}
				return
			}
			s.publish(h.id, img)
		}
	}(h.pumpDone)
}

// stop stops every track, waits for the frame pump and detaches the
// surface. It reports whether this call did the work.
func (h *Handle) stop() bool {
	did := false
	h.stopOnce.Do(func() {
		did = true
		h.stopped.Store(true)
		stopTracks(h.stream)

		h.mu.Lock()
		cancel, done, s := h.pumpCancel, h.pumpDone, h.surface
		h.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		if s != nil {
			s.detach(h.id)
		}
	})
	return did
}
