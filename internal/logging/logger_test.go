package logging

import (
	"bytes"
	"testing"
)

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *slogLogger
	var logger Logger = typed
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestNewFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "info", Format: "text", Output: buf})

	scoped := NewComponentLogger(logger, "test")
	scoped.Info("hello %s", "world")

	if got := buf.String(); got == "" {
		t.Fatalf("expected log output")
	}
	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}

func TestMultiFansOut(t *testing.T) {
	first := &bytes.Buffer{}
	second := &bytes.Buffer{}
	logger := Multi(
		New(Config{Level: "debug", Format: "text", Output: first}),
		New(Config{Level: "debug", Format: "text", Output: second}),
		nil,
	)

	logger.Debug("fan out %d", 2)

	for i, buf := range []*bytes.Buffer{first, second} {
		if !bytes.Contains(buf.Bytes(), []byte("fan out 2")) {
			t.Fatalf("logger %d missing output, got %q", i, buf.String())
		}
	}
}
