package session

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects what a session produces. It is a pure selection and
// holds no resources; see State for the resource lifecycle.
type Mode int

const (
	ModePhoto Mode = iota
	ModeQRScan
	ModeBarcodeScan
)

func (m Mode) String() string {
	switch m {
	case ModePhoto:
		return "photo"
	case ModeQRScan:
		return "qr"
	case ModeBarcodeScan:
		return "barcode"
	default:
		return "unknown"
	}
}

// Scans reports whether m runs a decode loop.
func (m Mode) Scans() bool { return m == ModeQRScan || m == ModeBarcodeScan }

func (m Mode) valid() bool { return m >= ModePhoto && m <= ModeBarcodeScan }

// ParseMode accepts "photo", "qr" and "barcode".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photo", "camera":
		return ModePhoto, nil
	case "qr", "qrcode", "qr_scan":
		return ModeQRScan, nil
	case "barcode", "barcode_scan":
		return ModeBarcodeScan, nil
	default:
		return ModePhoto, errors.Errorf("unknown mode %q", s)
	}
}

// MarshalText lets modes travel as strings in JSON.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// State is the resource lifecycle of a session.
type State int

const (
	Idle State = iota
	Acquiring
	StreamReady
	Capturing
	Scanning
	Captured
	Scanned
	Failed
)

var stateNames = [...]string{
	Idle:        "idle",
	Acquiring:   "acquiring",
	StreamReady: "stream_ready",
	Capturing:   "capturing",
	Scanning:    "scanning",
	Captured:    "captured",
	Scanned:     "scanned",
	Failed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown state %q", b)
}

// Active reports whether the state may hold a device or a decode loop.
func (s State) Active() bool {
	switch s {
	case Acquiring, StreamReady, Capturing, Scanning:
		return true
	}
	return false
}
