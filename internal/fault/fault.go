package fault

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failure. The prefix before the dot names the domain
// (device, capture, decode, input, session).
type Kind string

const (
	PermissionDenied Kind = "device.permission_denied"
	NotFound         Kind = "device.not_found"
	Busy             Kind = "device.busy"
	Overconstrained  Kind = "device.overconstrained"
	Unsupported      Kind = "device.unsupported"
	DeviceUnknown    Kind = "device.unknown"

	NotReady Kind = "capture.not_ready"

	NoCodeFound Kind = "decode.no_code_found"
	DecodeFatal Kind = "decode.backend"

	InvalidFileType Kind = "input.invalid_file_type"

	InvalidState Kind = "session.invalid_state"
	Cancelled    Kind = "session.cancelled"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrPermissionDenied = &Error{Kind: PermissionDenied}
	ErrNotFound         = &Error{Kind: NotFound}
	ErrBusy             = &Error{Kind: Busy}
	ErrOverconstrained  = &Error{Kind: Overconstrained}
	ErrUnsupported      = &Error{Kind: Unsupported}
	ErrDeviceUnknown    = &Error{Kind: DeviceUnknown}
	ErrNotReady         = &Error{Kind: NotReady}
	ErrNoCodeFound      = &Error{Kind: NoCodeFound}
	ErrDecodeFatal      = &Error{Kind: DecodeFatal}
	ErrInvalidFileType  = &Error{Kind: InvalidFileType}
	ErrInvalidState     = &Error{Kind: InvalidState}
	ErrCancelled        = &Error{Kind: Cancelled}
)

// Error is the tagged error value carried by a Failed session.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "device.acquire"
	Err  error  // underlying cause, may be nil
}

// New builds an Error. cause may be nil.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf builds an Error whose cause is a formatted message.
func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Domain returns the part of the kind before the dot.
func (k Kind) Domain() string {
	domain, _, _ := strings.Cut(string(k), ".")
	return domain
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Recoverable reports whether the user can act to get past the failure.
// Only a missing device cannot be fixed without different hardware.
func Recoverable(k Kind) bool {
	switch k {
	case NotFound, DeviceUnknown, DecodeFatal:
		return false
	default:
		return true
	}
}

// Message returns the user-visible message class for k.
func Message(k Kind) string {
	switch k {
	case PermissionDenied:
		return "access denied"
	case NotFound:
		return "no device"
	case Busy:
		return "device busy"
	case Overconstrained:
		return "unsupported settings"
	case Unsupported:
		return "device not supported"
	case NotReady:
		return "camera not ready, wait and retry"
	case NoCodeFound:
		return "no code found"
	case InvalidFileType:
		return "invalid file"
	case InvalidState:
		return "operation not allowed now"
	case Cancelled:
		return "cancelled"
	default:
		return "unexpected error"
	}
}
