package decode

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
)

// Frames is the read side of a render surface a decode loop pulls from.
type Frames interface {
	NextFrame(ctx context.Context, after uint64) (image.Image, uint64, error)
}

// Callbacks receive the outcome of a decode loop. They run on the loop
// goroutine and must not call Cancel on the token of their own loop.
type Callbacks struct {
	OnResult func(Result)     // first successful decode, at most once
	OnMiss   func(seq uint64) // frame held no code; diagnostics only
	OnFatal  func(err error)  // stream or backend failure, loop ends
}

// Engine runs decode loops over live frames and one-shot decodes over
// static images.
type Engine struct {
	backend Backend
	maxRate float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRate caps decode attempts per second. Frames arriving faster
// are skipped. Zero means every frame is tried.
func WithMaxRate(perSecond float64) Option {
	return func(e *Engine) { e.maxRate = perSecond }
}

func NewEngine(b Backend, opts ...Option) *Engine {
	e := &Engine{backend: b}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CancelToken stops a running decode loop.
type CancelToken struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the loop and returns once it has exited, so no callback
// runs after Cancel returns. Calling it again, or after the loop has
// finished on its own, is a no-op.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed when the loop goroutine has exited.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Loop decodes frames from src until the first success, a fatal error or
// cancellation. It paces itself on the frames the device delivers.
func (e *Engine) Loop(src Frames, formats []Format, cb Callbacks) *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	tok := &CancelToken{cancel: cancel, done: make(chan struct{})}

	var limiter *rate.Limiter
	if e.maxRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.maxRate), 1)
	}

	go func() {
		defer close(tok.done)
		defer cancel()

		var seq uint64
		misses := 0
		for {
			img, next, err := src.NextFrame(ctx, seq)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if cb.OnFatal != nil {
					cb.OnFatal(fault.New(fault.DeviceUnknown, "decode.loop", err))
				}
				return
			}
			seq = next
			if limiter != nil && !limiter.Allow() {
				continue
			}

			res, err := e.backend.DecodeOnce(img, formats)
			if ctx.Err() != nil {
				return
			}
			switch {
			case err == nil:
				debug.Live("Decode: %s after %d missed frames", res.Format, misses)
				if cb.OnResult != nil {
					cb.OnResult(res)
				}
				return
			case errors.Is(err, ErrNoCode):
				misses++
				debug.Trace("Decode: no code in frame %d", seq)
				if cb.OnMiss != nil {
					cb.OnMiss(seq)
				}
			default:
				if cb.OnFatal != nil {
					cb.OnFatal(fault.New(fault.DecodeFatal, "decode.loop", err))
				}
				return
			}
		}
	}()
	return tok
}

// DecodeStatic makes a single decode attempt on an encoded image. Finding
// nothing is a terminal fault.NoCodeFound here, unlike in Loop.
func (e *Engine) DecodeStatic(ctx context.Context, data []byte, formats []Format) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fault.New(fault.Cancelled, "decode.static", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fault.New(fault.InvalidFileType, "decode.static", err)
	}

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := e.backend.DecodeOnce(img, formats)
		ch <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, fault.New(fault.Cancelled, "decode.static", ctx.Err())
	case o := <-ch:
		switch {
		case o.err == nil:
			return o.res, nil
		case errors.Is(o.err, ErrNoCode):
			return Result{}, fault.New(fault.NoCodeFound, "decode.static", o.err)
		default:
			return Result{}, fault.New(fault.DecodeFatal, "decode.static", o.err)
		}
	}
}
