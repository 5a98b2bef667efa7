package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/hw/device"
)

// staticFrames is a surface stand-in with a fixed frame.
type staticFrames struct {
	geom  device.Geometry
	frame image.Image
}

func (s staticFrames) Geometry() device.Geometry { return s.geom }
func (s staticFrames) Frame() image.Image        { return s.frame }

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSnapshot_MatchesGeometry(t *testing.T) {
	e := NewEngine(0)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	geom := device.Geometry{Width: 64, Height: 48}
	img, err := e.Snapshot(staticFrames{geom, solid(64, 48, color.White)}, geom)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if img.Width != 64 || img.Height != 48 {
		t.Errorf("size = %dx%d, want 64x48", img.Width, img.Height)
	}
	if img.Encoding != "image/jpeg" {
		t.Errorf("encoding = %q", img.Encoding)
	}
	if img.Quality != 0.9 {
		t.Errorf("quality = %v, want 0.9", img.Quality)
	}
	if !img.CapturedAt.Equal(fixed) {
		t.Errorf("captured_at = %v", img.CapturedAt)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(img.Payload))
	if err != nil {
		t.Fatalf("payload is not a JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("decoded size = %v", b)
	}
}

func TestSnapshot_ScalesToLiveGeometry(t *testing.T) {
	e := NewEngine(DefaultQuality)
	geom := device.Geometry{Width: 32, Height: 24}
	img, err := e.Snapshot(staticFrames{geom, solid(128, 96, color.Black)}, geom)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(img.Payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("raster = %v, want 32x24", b)
	}
}

func TestSnapshot_NotReady(t *testing.T) {
	e := NewEngine(DefaultQuality)
	cases := []struct {
		name string
		s    staticFrames
	}{
		{"zero_geometry", staticFrames{device.Geometry{}, solid(4, 4, color.White)}},
		{"no_frame", staticFrames{device.Geometry{Width: 4, Height: 4}, nil}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Snapshot(tc.s, device.Geometry{})
			if !errors.Is(err, fault.ErrNotReady) {
				t.Errorf("expected NotReady, got %v", err)
			}
		})
	}
}

func TestNewEngine_ClampsQuality(t *testing.T) {
	for _, q := range []float64{-1, 0, 1.5} {
		if got := NewEngine(q).Quality(); got != DefaultQuality {
			t.Errorf("NewEngine(%v).Quality() = %v, want %v", q, got, DefaultQuality)
		}
	}
	if got := NewEngine(0.5).Quality(); got != 0.5 {
		t.Errorf("quality = %v, want 0.5", got)
	}
}

func TestFromFile(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(10, 7, color.White)); err != nil {
		t.Fatal(err)
	}
	img, err := NewEngine(DefaultQuality).FromFile("image/png", buf.Bytes())
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if img.Width != 10 || img.Height != 7 {
		t.Errorf("size = %dx%d, want 10x7", img.Width, img.Height)
	}
	if img.Source != "file" || img.Encoding != "image/png" {
		t.Errorf("unexpected source/encoding: %s %s", img.Source, img.Encoding)
	}
	if !bytes.Equal(img.Payload, buf.Bytes()) {
		t.Error("payload should be kept as-is")
	}
}

func TestFromFile_Garbage(t *testing.T) {
	_, err := NewEngine(DefaultQuality).FromFile("image/png", []byte("not an image"))
	if !errors.Is(err, fault.ErrInvalidFileType) {
		t.Errorf("expected InvalidFileType, got %v", err)
	}
}

func TestDataURI(t *testing.T) {
	img := Image{Encoding: "image/jpeg", Payload: []byte{0xff, 0xd8}}
	if got := img.DataURI(); !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Errorf("DataURI = %q", got)
	}
}
