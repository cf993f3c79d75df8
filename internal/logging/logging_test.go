package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	} {
		got, err := ParseLevel(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) succeeded")
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "cmip6.log")
	logger, closer, err := New(&buf, "warn", file)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("no data in window, skipping", "window", "2090-2099")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(buf.String(), "window=2090-2099") {
		t.Errorf("console output = %q", buf.String())
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != buf.String() {
		t.Errorf("log file = %q, want %q", b, buf.String())
	}
}
