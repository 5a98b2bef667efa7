package fault

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := New(PermissionDenied, "device.acquire", errors.New("denied by user"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("expected errors.Is to match PermissionDenied sentinel")
	}
	if errors.Is(err, ErrBusy) {
		t.Error("PermissionDenied must not match Busy")
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	base := New(NoCodeFound, "decode.static", nil)
	wrapped := errors.Wrap(base, "decode from file")
	if !errors.Is(wrapped, ErrNoCodeFound) {
		t.Error("expected wrapped error to match NoCodeFound")
	}
	if got := KindOf(wrapped); got != NoCodeFound {
		t.Errorf("KindOf = %q, want %q", got, NoCodeFound)
	}
	stdWrapped := fmt.Errorf("outer: %w", base)
	if got := KindOf(stdWrapped); got != NoCodeFound {
		t.Errorf("KindOf(fmt wrapped) = %q, want %q", got, NoCodeFound)
	}
}

func TestError_Message(t *testing.T) {
	err := New(Busy, "device.acquire", errors.New("in use"))
	want := "device.acquire: device.busy: in use"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if got := New(NotReady, "", nil).Error(); got != "capture.not_ready" {
		t.Errorf("Error() without op = %q", got)
	}
}

func TestKindOf_Plain(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestKind_Domain(t *testing.T) {
	cases := map[Kind]string{
		PermissionDenied: "device",
		NotReady:         "capture",
		NoCodeFound:      "decode",
		InvalidFileType:  "input",
		InvalidState:     "session",
		Kind("bare"):     "bare",
		Kind(""):         "",
	}
	for k, want := range cases {
		if got := k.Domain(); got != want {
			t.Errorf("%s.Domain() = %q, want %q", k, got, want)
		}
	}
}

func TestRecoverable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{PermissionDenied, true},
		{NotFound, false},
		{Busy, true},
		{Overconstrained, true},
		{NotReady, true},
		{NoCodeFound, true},
		{InvalidFileType, true},
	}
	for _, tc := range cases {
		if got := Recoverable(tc.kind); got != tc.want {
			t.Errorf("Recoverable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestMessage(t *testing.T) {
	if got := Message(PermissionDenied); got != "access denied" {
		t.Errorf("Message(PermissionDenied) = %q", got)
	}
	if got := Message(NoCodeFound); got != "no code found" {
		t.Errorf("Message(NoCodeFound) = %q", got)
	}
	if got := Message(Kind("unknown.kind")); got != "unexpected error" {
		t.Errorf("Message(unknown) = %q", got)
	}
}
