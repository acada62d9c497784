package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	oldStderr := os.Stderr
	oldLogger := slog.Default()
	os.Stderr = w
	defer func() {
		os.Stderr = oldStderr
		slog.SetDefault(oldLogger)
	}()

	fn()

	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read stderr: %v", err)
	}
	return string(out)
}

func TestInitDefaultLevelWarn(t *testing.T) {
	output := captureStderr(t, func() {
		if _, err := Init(false, ""); err != nil {
			t.Errorf("Init: %v", err)
		}
		slog.Info("info")
		slog.Warn("warn")
	})

	if strings.Contains(output, "msg=info") {
		t.Fatalf("expected info to be suppressed, got %q", output)
	}
	if !strings.Contains(output, "msg=warn") {
		t.Fatalf("expected warn to be logged, got %q", output)
	}
}

func TestInitVerboseLevelDebug(t *testing.T) {
	output := captureStderr(t, func() {
		if _, err := Init(true, FormatText); err != nil {
			t.Errorf("Init: %v", err)
		}
		slog.Debug("debug")
		slog.Info("info")
	})

	if !strings.Contains(output, "msg=debug") {
		t.Fatalf("expected debug to be logged, got %q", output)
	}
	if !strings.Contains(output, "msg=info") {
		t.Fatalf("expected info to be logged, got %q", output)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, false, "JSON")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("account failed", "account_id", "111111111111")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "account failed" || entry["account_id"] != "111111111111" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewUnsupportedFormat(t *testing.T) {
	if _, err := New(io.Discard, false, "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
