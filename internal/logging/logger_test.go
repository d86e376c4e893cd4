package logging

import (
	"bytes"
	"strings"
	"testing"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.lines = append(r.lines, "D") }
func (r *recordingLogger) Info(format string, args ...any)  { r.lines = append(r.lines, "I") }
func (r *recordingLogger) Warn(format string, args ...any)  { r.lines = append(r.lines, "W") }
func (r *recordingLogger) Error(format string, args ...any) { r.lines = append(r.lines, "E") }

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	var typed *recordingLogger
	if !IsNil(Logger(typed)) {
		t.Fatal("IsNil missed typed nil")
	}
	rec := &recordingLogger{}
	if OrNop(rec) != Logger(rec) {
		t.Fatal("OrNop replaced a live logger")
	}
}

func TestMultiFanOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := Multi(a, nil, b)
	m.Info("hello")
	m.Error("boom")
	if len(a.lines) != 2 || len(b.lines) != 2 {
		t.Fatalf("fan-out missed a logger: a=%d b=%d", len(a.lines), len(b.lines))
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf})
	logger.Debug("count=%d", 3)
	if !strings.Contains(buf.String(), `"count=3"`) {
		t.Fatalf("expected formatted message in JSON output, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Output: &buf})
	logger.Info("quiet")
	logger.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn missing from output: %q", out)
	}
}
