package capture

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/hw/device"
)

// DefaultQuality is the JPEG quality used for snapshots (0.0-1.0).
const DefaultQuality = 0.9

// EncodingJPEG is the MIME type of snapshot payloads.
const EncodingJPEG = "image/jpeg"

// Image is a captured still. It is never modified after creation.
type Image struct {
	Encoding   string    `json:"encoding"`
	Quality    float64   `json:"quality"`
	Payload    []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source"` // "device" or "file"
}

// DataURI renders the payload as a data: URI.
func (i Image) DataURI() string {
	return "data:" + i.Encoding + ";base64," + base64.StdEncoding.EncodeToString(i.Payload)
}

// Frames is the read side of a render surface.
type Frames interface {
	Geometry() device.Geometry
	Frame() image.Image
}

// Engine turns the current frame of a surface into a JPEG still.
type Engine struct {
	quality float64
	now     func() time.Time
}

func NewEngine(quality float64) *Engine {
	if quality <= 0 || quality > 1 {
		quality = DefaultQuality
	}
	return &Engine{quality: quality, now: time.Now}
}

// Quality returns the encoder quality in the 0.0-1.0 range.
func (e *Engine) Quality() float64 { return e.quality }

// Snapshot draws the current visible frame into a raster of the live
// geometry and encodes it. One call is one frame; there is no retry.
// A surface without geometry yields fault.NotReady, which callers should
// treat as "try again shortly".
func (e *Engine) Snapshot(s Frames, expected device.Geometry) (Image, error) {
	live := s.Geometry()
	frame := s.Frame()
	if live.Zero() || frame == nil {
		return Image{}, fault.Newf(fault.NotReady, "capture.snapshot", "surface has no geometry yet")
	}
	if !expected.Zero() && expected != live {
		debug.Verbose("Capture: geometry changed since attach (%dx%d -> %dx%d)",
			expected.Width, expected.Height, live.Width, live.Height)
	}

	raster := image.NewRGBA(image.Rect(0, 0, live.Width, live.Height))
	src := frame.Bounds()
	if src.Dx() == live.Width && src.Dy() == live.Height {
		draw.Draw(raster, raster.Bounds(), frame, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(raster, raster.Bounds(), frame, src, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raster, &jpeg.Options{Quality: int(e.quality*100 + 0.5)}); err != nil {
		return Image{}, fault.New(fault.DeviceUnknown, "capture.encode", err)
	}
	debug.Live("Capture: %dx%d still, %d bytes", live.Width, live.Height, buf.Len())
	return Image{
		Encoding:   EncodingJPEG,
		Quality:    e.quality,
		Payload:    buf.Bytes(),
		Width:      live.Width,
		Height:     live.Height,
		CapturedAt: e.now(),
		Source:     "device",
	}, nil
}

// FromFile wraps an already-validated image file as a still. The bytes
// are kept as-is; width and height come from the image header.
func (e *Engine) FromFile(contentType string, data []byte) (Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fault.New(fault.InvalidFileType, "capture.from_file", err)
	}
	return Image{
		Encoding:   contentType,
		Quality:    1,
		Payload:    data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: e.now(),
		Source:     "file",
	}, nil
}
