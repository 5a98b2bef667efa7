package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	Init(lvl)
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { Init(LevelOff) })
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, LevelLive)

	Info("info %d", 1)
	Live("live %d", 2)
	Verbose("verbose %d", 3)
	Trace("trace %d", 4)

	out := buf.String()
	for _, want := range []string{"info 1", "live 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
	for _, unwanted := range []string{"verbose 3", "trace 4"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("output should not contain %q at level %d: %s", unwanted, LevelLive, out)
		}
	}
}

func TestLevelOffIsSilent(t *testing.T) {
	buf := captureOutput(t, LevelOff)
	Info("nothing")
	Error(errors.New("boom"))
	if buf.Len() != 0 {
		t.Errorf("expected no output at level off, got %q", buf.String())
	}
}

func TestTraceLevelEmitsGPIO(t *testing.T) {
	buf := captureOutput(t, LevelTrace)
	GPIO("WritePin", 17, true)
	if !strings.Contains(buf.String(), "WritePin") {
		t.Errorf("expected GPIO trace line, got %q", buf.String())
	}
}

func TestTransitionFields(t *testing.T) {
	buf := captureOutput(t, LevelLive)
	Transition("01HX", "idle", "acquiring")
	out := buf.String()
	if !strings.Contains(out, "from=idle") || !strings.Contains(out, "to=acquiring") {
		t.Errorf("transition fields missing: %q", out)
	}
}

func TestEventNilWhenDisabled(t *testing.T) {
	captureOutput(t, LevelInfo)
	if Event(LevelVerbose) != nil {
		t.Error("expected nil event above the configured level")
	}
	if Event(LevelInfo) == nil {
		t.Error("expected event at the configured level")
	}
}

func TestFmt(t *testing.T) {
	captureOutput(t, LevelOff)
	if got := Fmt("%d", 5); got != "" {
		t.Errorf("Fmt at level off = %q, want empty", got)
	}
	captureOutput(t, LevelInfo)
	if got := Fmt("%d", 5); got != "5" {
		t.Errorf("Fmt = %q, want \"5\"", got)
	}
}
