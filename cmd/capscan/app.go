package main

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/config"
	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/hw/device"
	"github.com/cjeanneret/capscan/internal/hw/gpio"
	"github.com/cjeanneret/capscan/internal/hw/lamp"
	"github.com/cjeanneret/capscan/internal/logic/capture"
	"github.com/cjeanneret/capscan/internal/logic/decode"
	"github.com/cjeanneret/capscan/internal/logic/session"
)

// app is the wired object graph every command runs on.
type app struct {
	gpio    gpio.Driver
	source  *device.VirtualSource
	devices *device.Controller
	session *session.Controller
}

// newApp wires GPIO, the lamp, the device source and the session
// controller from cfg. extra options (consumer, observers) are applied
// after the config-derived ones.
func newApp(cfg *config.Config, extra ...session.Option) (*app, error) {
	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, errors.Wrap(err, "init GPIO")
	}

	debug.Step(2, "Opening camera source")
	cams, err := virtualCameras(cfg)
	if err != nil {
		g.Close()
		return nil, err
	}
	src := device.NewVirtualSource(cams, cfg.PermissionGranted())
	devices := device.NewController(src,
		device.WithLamp(newLamp(g, cfg.Lamp)),
		device.WithAttachTimeout(cfg.AttachTimeout()),
	)
	debug.Value("Cameras", len(cams))

	debug.Step(3, "Creating session")
	opts, err := sessionOptions(cfg)
	if err != nil {
		g.Close()
		return nil, err
	}
	ctl := session.New(
		devices,
		capture.NewEngine(cfg.Capture.Quality),
		decode.NewEngine(decode.NewZXing(cfg.Decode.TryHarder), decode.WithMaxRate(cfg.Decode.MaxRate)),
		append(opts, extra...)...,
	)

	mode, err := session.ParseMode(cfg.Defaults.Mode)
	if err != nil {
		g.Close()
		return nil, err
	}
	if err := ctl.SetMode(mode); err != nil {
		g.Close()
		return nil, err
	}

	return &app{gpio: g, source: src, devices: devices, session: ctl}, nil
}

// Close stops the session, releases any device still live and closes GPIO.
func (a *app) Close() {
	a.session.Close()
	a.devices.Close()
	if err := a.gpio.Close(); err != nil {
		debug.Error(errors.Wrap(err, "close GPIO"))
	}
}

func virtualCameras(cfg *config.Config) ([]device.VirtualCamera, error) {
	cams := make([]device.VirtualCamera, 0, len(cfg.Device.Cameras))
	for _, c := range cfg.Device.Cameras {
		facing, err := device.ParseFacing(c.Facing)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %s", c.ID)
		}
		cams = append(cams, device.VirtualCamera{
			ID:        c.ID,
			Label:     c.Label,
			Facing:    facing,
			Width:     c.Width,
			Height:    c.Height,
			FPS:       c.FPS,
			FramesDir: c.FramesDir,
		})
	}
	return cams, nil
}

func parseFormats(names []string) ([]decode.Format, error) {
	formats := make([]decode.Format, 0, len(names))
	for _, n := range names {
		f, err := decode.ParseFormat(n)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func sessionOptions(cfg *config.Config) ([]session.Option, error) {
	facing, err := device.ParseFacing(cfg.Device.PhotoFacing)
	if err != nil {
		return nil, errors.Wrap(err, "device.photo_facing")
	}
	qr, err := parseFormats(cfg.Decode.QRFormats)
	if err != nil {
		return nil, errors.Wrap(err, "decode.qr_formats")
	}
	barcode, err := parseFormats(cfg.Decode.BarcodeFormats)
	if err != nil {
		return nil, errors.Wrap(err, "decode.barcode_formats")
	}
	return []session.Option{
		session.WithPhotoFacing(facing),
		session.WithExactFacing(cfg.Device.ExactFacing),
		session.WithFrameSize(cfg.Device.Width, cfg.Device.Height),
		session.WithFormats(session.ModeQRScan, qr),
		session.WithFormats(session.ModeBarcodeScan, barcode),
	}, nil
}

func newLamp(g gpio.Driver, cfg config.LampConfig) lamp.Lamp {
	if cfg.Pin <= 0 {
		return &lamp.Nop{}
	}
	debug.Value("Lamp pin", cfg.Pin)
	return lamp.NewGPIOLamp(g, cfg.Pin, cfg.ActiveLow)
}
