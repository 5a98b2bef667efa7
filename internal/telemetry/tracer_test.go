package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop.span")
	End(span, nil)
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetup_UnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Enabled: true, Exporter: "zipkin"}); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestSetup_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Config{Enabled: true, Exporter: "stdout", Writer: &buf})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _, _ = Setup(context.Background(), Config{}) })

	_, span := StartSpan(context.Background(), "session.start", String("mode", "qr"))
	End(span, errors.New("device busy"))

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "session.start") {
		t.Errorf("exported spans missing name: %s", out)
	}
	if !strings.Contains(out, "device busy") {
		t.Errorf("exported spans missing error: %s", out)
	}
}
