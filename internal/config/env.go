package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/capscan/internal/env"
)

// Environment overrides applied on top of the YAML file.
const (
	EnvDebugLevel = "CAPSCAN_DEBUG_LEVEL"
	EnvWebPort    = "CAPSCAN_WEB_PORT"
	EnvPermission = "CAPSCAN_PERMISSION"
	EnvFramesDir  = "CAPSCAN_FRAMES_DIR"
	EnvTracing    = "CAPSCAN_TRACING"
	EnvMode       = "CAPSCAN_MODE"
	EnvAttach     = "CAPSCAN_ATTACH_TIMEOUT" // Go duration, e.g. "5s"
)

func applyEnv(c *Config) {
	c.Defaults.DebugLevel = Int(EnvDebugLevel, c.Defaults.DebugLevel)
	c.Web.Port = Int(EnvWebPort, c.Web.Port)
	c.Defaults.Mode = String(EnvMode, c.Defaults.Mode)
	c.Tracing.Enabled = Bool(EnvTracing, c.Tracing.Enabled)
	c.Device.AttachTimeoutMs = int(Duration(EnvAttach, c.AttachTimeout()) / time.Millisecond)
	if os.Getenv(EnvPermission) != "" {
		granted := Bool(EnvPermission, c.PermissionGranted())
		c.Device.Permission = &granted
	}
	if dir := String(EnvFramesDir, ""); dir != "" {
		for i := range c.Device.Cameras {
			if c.Device.Cameras[i].FramesDir == "" {
				c.Device.Cameras[i].FramesDir = dir
			}
		}
	}
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	_ = env.Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	_ = env.Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	_ = env.Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	_ = env.Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return fallback
}
