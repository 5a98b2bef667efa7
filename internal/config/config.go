package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 1 << 20

// CameraConfig describes one camera served by the virtual device source.
type CameraConfig struct {
	ID        string `yaml:"id"`
	Label     string `yaml:"label"`
	Facing    string `yaml:"facing"`     // "user" or "environment"
	Width     int    `yaml:"width"`      // frame width in px
	Height    int    `yaml:"height"`     // frame height in px
	FPS       int    `yaml:"fps"`        // frames per second
	FramesDir string `yaml:"frames_dir"` // images to replay; empty = test card
}

// DeviceConfig selects how camera streams are obtained.
type DeviceConfig struct {
	Source          string         `yaml:"source"`            // only "virtual" for now
	Permission      *bool          `yaml:"permission"`        // camera permission granted (default: true)
	AttachTimeoutMs int            `yaml:"attach_timeout_ms"` // wait for first frame (ms)
	PhotoFacing     string         `yaml:"photo_facing"`      // facing requested in photo mode
	ExactFacing     bool           `yaml:"exact_facing"`      // fail instead of falling back to another facing
	Width           int            `yaml:"width"`             // preferred frame width
	Height          int            `yaml:"height"`            // preferred frame height
	Cameras         []CameraConfig `yaml:"cameras"`
}

// CaptureConfig tunes still encoding.
type CaptureConfig struct {
	Quality float64 `yaml:"quality"` // JPEG quality 0.0-1.0
}

// DecodeConfig tunes the barcode decoder.
type DecodeConfig struct {
	TryHarder      bool     `yaml:"try_harder"`
	MaxRate        float64  `yaml:"max_rate"` // decode attempts per second, 0 = every frame
	QRFormats      []string `yaml:"qr_formats"`
	BarcodeFormats []string `yaml:"barcode_formats"`
}

// LampConfig drives an illumination LED while a camera is live.
// Pin 0 means no lamp.
type LampConfig struct {
	Pin       int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low"`
}

// WebConfig holds the HTTP server settings.
type WebConfig struct {
	Port int `yaml:"port"`
}

// TracingConfig enables OpenTelemetry spans.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	Mode       string `yaml:"mode"`        // initial session mode: photo, qr, barcode
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Capture  CaptureConfig  `yaml:"capture"`
	Decode   DecodeConfig   `yaml:"decode"`
	Lamp     LampConfig     `yaml:"lamp"`
	Web      WebConfig      `yaml:"web"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are not a .yaml file directly
// inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return errors.Errorf("config path %q must not contain '..'", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return errors.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve config path")
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return errors.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies CAPSCAN_* environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, errors.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}

	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Device.Source == "" {
		c.Device.Source = "virtual"
	}
	if c.Device.Source != "virtual" {
		return errors.Errorf("device.source %q is not supported", c.Device.Source)
	}
	if len(c.Device.Cameras) == 0 {
		return errors.New("device.cameras needs at least one camera")
	}
	if c.Device.Permission == nil {
		granted := true
		c.Device.Permission = &granted
	}
	if c.Device.AttachTimeoutMs <= 0 {
		c.Device.AttachTimeoutMs = 3000
	}
	if c.Device.PhotoFacing == "" {
		c.Device.PhotoFacing = "environment"
	}
	if !validFacing(c.Device.PhotoFacing) {
		return errors.Errorf("device.photo_facing %q must be user or environment", c.Device.PhotoFacing)
	}

	seen := make(map[string]bool, len(c.Device.Cameras))
	for i := range c.Device.Cameras {
		cam := &c.Device.Cameras[i]
		if cam.ID == "" {
			return errors.Errorf("device.cameras[%d].id is required", i)
		}
		if seen[cam.ID] {
			return errors.Errorf("device.cameras[%d].id %q is duplicated", i, cam.ID)
		}
		seen[cam.ID] = true
		if cam.Facing == "" {
			cam.Facing = "environment"
		}
		if !validFacing(cam.Facing) {
			return errors.Errorf("device.cameras[%d].facing %q must be user or environment", i, cam.Facing)
		}
		if cam.Width <= 0 {
			cam.Width = 640
		}
		if cam.Height <= 0 {
			cam.Height = 480
		}
		if cam.FPS <= 0 {
			cam.FPS = 15
		}
		if cam.Label == "" {
			cam.Label = cam.ID
		}
	}

	if c.Capture.Quality == 0 {
		c.Capture.Quality = 0.9
	}
	if c.Capture.Quality < 0 || c.Capture.Quality > 1 {
		return errors.Errorf("capture.quality must be between 0 and 1, got %.2f", c.Capture.Quality)
	}

	if c.Decode.MaxRate < 0 {
		return errors.Errorf("decode.max_rate must be >= 0, got %.2f", c.Decode.MaxRate)
	}

	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return errors.Errorf("web.port must be 1-65535, got %d", c.Web.Port)
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}

	if c.Defaults.Mode == "" {
		c.Defaults.Mode = "photo"
	}
	switch strings.ToLower(c.Defaults.Mode) {
	case "photo", "qr", "barcode":
	default:
		return errors.Errorf("defaults.mode %q must be photo, qr or barcode", c.Defaults.Mode)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return errors.Errorf("defaults.debug_level must be 0-4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func validFacing(f string) bool {
	return f == "user" || f == "environment"
}

// AttachTimeout returns how long to wait for a stream's first frame.
func (c *Config) AttachTimeout() time.Duration {
	return time.Duration(c.Device.AttachTimeoutMs) * time.Millisecond
}

// PermissionGranted reports whether the virtual source allows camera access.
func (c *Config) PermissionGranted() bool {
	return c.Device.Permission == nil || *c.Device.Permission
}

// WebAddr returns the listen address for the HTTP server.
func (c *Config) WebAddr() string {
	return ":" + strconv.Itoa(c.Web.Port)
}
