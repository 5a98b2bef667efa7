package device

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
)

// Surface is the render sink a stream is attached to. It holds the
// latest frame and its geometry and lets readers wait for newer ones.
type Surface struct {
	mu      sync.Mutex
	owner   string // handle id currently bound, "" if none
	frame   image.Image
	seq     uint64
	geom    Geometry
	err     error
	updated chan struct{} // closed and replaced on every change
}

func NewSurface() *Surface {
	return &Surface{updated: make(chan struct{})}
}

// Geometry returns the size of the current frame, zero before the first one.
func (s *Surface) Geometry() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geom
}

// Frame returns the current visible frame, nil if none.
func (s *Surface) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Bound reports whether a stream is attached.
func (s *Surface) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner != ""
}

// NextFrame waits for a frame with a sequence number greater than after
// and returns it with its sequence number. Pacing is therefore set by
// the device, not by the reader.
func (s *Surface) NextFrame(ctx context.Context, after uint64) (image.Image, uint64, error) {
	for {
		s.mu.Lock()
		if s.owner == "" {
			s.mu.Unlock()
			return nil, 0, ErrDetached
		}
		if s.frame != nil && s.seq > after {
			img, seq := s.frame, s.seq
			s.mu.Unlock()
			return img, seq, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, 0, err
		}
		wait := s.updated
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-wait:
		}
	}
}

func (s *Surface) notify() {
	close(s.updated)
	s.updated = make(chan struct{})
}

func (s *Surface) bind(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" && s.owner != owner {
		return errors.Errorf("surface already bound to handle %s", s.owner)
	}
	s.owner = owner
	s.frame, s.seq, s.geom, s.err = nil, 0, Geometry{}, nil
	s.notify()
	return nil
}

func (s *Surface) publish(owner string, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	s.frame = img
	s.seq++
	s.geom = geometryOf(img)
	s.notify()
}

// end records a stream failure; readers get err from NextFrame.
func (s *Surface) end(owner string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	s.err = err
	s.notify()
}

func (s *Surface) detach(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	s.owner = ""
	s.frame, s.geom = nil, Geometry{}
	s.notify()
}
