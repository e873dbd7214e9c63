package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"info":  slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("unknown level must be rejected")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trustd.log")
	log, closer, err := New(Config{Level: "info", Format: "json", Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if closer == nil {
		t.Fatal("file output must return a closer")
	}

	log.Info("declaration signed", "declaration", "d1")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"declaration":"d1"`) {
		t.Errorf("json log line missing attribute: %s", data)
	}
}

func TestNewRejectsUnknownOutput(t *testing.T) {
	if _, _, err := New(Config{Output: "syslog"}); err == nil {
		t.Error("unknown output must be rejected")
	}
}

func TestNewFileOutputRequiresPath(t *testing.T) {
	if _, _, err := New(Config{Output: "file"}); err == nil {
		t.Error("file output without a path must be rejected")
	}
}
