package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaultsToStderrAndInfoLevel(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("expected default level %v, got %v", LevelInfo, logger.level)
	}
}

func TestLoggerLevelGatingSuppressesBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("cpu 0: tick started")
	logger.Info("cpu 0: listener bound", "addr", "127.0.0.1:7000")
	if buf.Len() != 0 {
		t.Errorf("expected Debug/Info below the Warn threshold to be suppressed, got: %s", buf.String())
	}

	logger.Warnf("cpu %d: selector poll: %v", 0, "EAGAIN")
	output := buf.String()
	if !strings.Contains(output, "[WARN]") {
		t.Errorf("expected a [WARN] line, got: %s", output)
	}
	if !strings.Contains(output, "cpu 0: selector poll: EAGAIN") {
		t.Errorf("expected the formatted message, got: %s", output)
	}
}

func TestLoggerKeyValueArgsFormatInOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("listener accepted connection", "fd", 7, "trace_id", "abc-123")

	output := buf.String()
	if !strings.Contains(output, "listener accepted connection") {
		t.Errorf("expected the message text, got: %s", output)
	}
	if !strings.Contains(output, "fd=7 trace_id=abc-123") {
		t.Errorf("expected key=value pairs in call order, got: %s", output)
	}
}

func TestLoggerErrorfMirrorsPrintfStyleFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelError, Output: &buf})

	logger.Errorf("fd=%d: register: %v", 9, "invariant violation")

	output := buf.String()
	if !strings.Contains(output, "[ERROR]") {
		t.Errorf("expected an [ERROR] line, got: %s", output)
	}
	if !strings.Contains(output, "fd=9: register: invariant violation") {
		t.Errorf("expected the formatted message, got: %s", output)
	}
}

func TestLoggerPrintfDelegatesToInfof(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	logger.Printf("cpu %d: halted", 3)

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("Printf must log at Info level, got: %s", output)
	}
	if !strings.Contains(output, "cpu 3: halted") {
		t.Errorf("expected the formatted message, got: %s", output)
	}
}

func TestSetDefaultOverridesGlobalConvenienceFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(DefaultConfig())) })

	Debug("worker pack placed connection", "pack", "worker")
	output := buf.String()
	if !strings.Contains(output, "worker pack placed connection") {
		t.Errorf("expected the debug message, got: %s", output)
	}
	if !strings.Contains(output, "pack=worker") {
		t.Errorf("expected pack=worker, got: %s", output)
	}

	buf.Reset()
	Error("listener accept failed", "error", "EMFILE")
	output = buf.String()
	if !strings.Contains(output, "[ERROR]") || !strings.Contains(output, "error=EMFILE") {
		t.Errorf("expected a formatted error line, got: %s", output)
	}
}

func TestDefaultReturnsASingletonUntilSetDefault(t *testing.T) {
	first := Default()
	second := Default()
	if first != second {
		t.Error("Default() must return the same logger across calls until SetDefault changes it")
	}

	var buf bytes.Buffer
	replacement := NewLogger(&Config{Level: LevelInfo, Output: &buf})
	SetDefault(replacement)
	t.Cleanup(func() { SetDefault(NewLogger(DefaultConfig())) })

	if Default() != replacement {
		t.Error("Default() must return the logger passed to SetDefault")
	}
}
