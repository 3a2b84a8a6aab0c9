package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, c, err := New(Config{Level: "warn", Format: FormatJSON}, &buf)
	require.NoError(t, err)
	defer closeIf(c)

	l.Info("hidden")
	l.Warn("Server did not stop in time", "pid", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, float64(42), rec["pid"])
}

func TestNewColor(t *testing.T) {
	var buf bytes.Buffer
	l, c, err := New(Config{}, &buf)
	require.NoError(t, err)
	defer closeIf(c)

	l.With("component", "monitor").Error("boom")
	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m")
	assert.Contains(t, out, "component=monitor")
	assert.NotContains(t, out, "level=")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "xml"}, io.Discard)
	assert.Error(t, err)
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "craftvisor.log")
	var buf bytes.Buffer
	l, c, err := New(Config{File: path}, &buf)
	require.NoError(t, err)
	l.Info("written twice")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written twice")
	assert.NotContains(t, string(data), "\033[", "no colour in files")
	assert.Contains(t, buf.String(), "written twice")
}

func TestConsoleWriterDefaults(t *testing.T) {
	assert.Nil(t, Config{}.ConsoleWriter(""))

	w := Config{}.ConsoleWriter("console.log")
	ol, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if ol.MaxSize != 10 || ol.MaxBackups != 3 || ol.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	closeIf(w)
}

func TestConsoleWriterOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	w := cfg.ConsoleWriter(filepath.Join(dir, "console.log"))
	ol := w.(*lj.Logger)
	if ol.MaxSize != 1 || ol.MaxBackups != 9 || ol.MaxAge != 11 || !ol.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", ol.MaxSize, ol.MaxBackups, ol.MaxAge, ol.Compress)
	}
	_, _ = w.Write([]byte("line\n"))
	closeIf(w)
	if _, err := os.Stat(filepath.Join(dir, "console.log")); err != nil {
		t.Fatalf("console log not created: %v", err)
	}
}
