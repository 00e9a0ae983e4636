package obslog

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("turn_applied", zap.String("move", "e2e4"), zap.Int("turn", 1))
	_ = logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "turn_applied" || entry["move"] != "e2e4" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, " | WARN | ") {
		t.Fatalf("expected legacy separator in %q", out)
	}
}

func TestInitWithFile(t *testing.T) {
	restoreGlobal(t)

	path := filepath.Join(t.TempDir(), "nested", "game.log")
	var buf bytes.Buffer
	if err := Init(Options{Format: "console", File: path, Writer: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Info("game_started")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "game_started") {
		t.Fatalf("file sink missing entry: %q", data)
	}
	if !strings.Contains(buf.String(), "game_started") {
		t.Fatalf("writer sink missing entry: %q", buf.String())
	}
}

func TestSyncClosesLogFile(t *testing.T) {
	restoreGlobal(t)

	path := filepath.Join(t.TempDir(), "game.log")
	var buf bytes.Buffer
	if err := Init(Options{File: path, Writer: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Re-initializing closes the first file.
	if err := Init(Options{File: path, Writer: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Info("second")
	Sync()
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "second") {
		t.Fatalf("file sink missing entry: %q", data)
	}
}

func TestNewCloserReleasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.log")
	logger, closeFn, err := New(Options{File: path, Writer: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("entry")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := closeFn(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected file to be closed already, got %v", err)
	}
}

func TestCallerOption(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Format: "json", Writer: &buf, Caller: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("with_caller")
	if !strings.Contains(buf.String(), `"caller":"obslog/obslog_test.go:`) {
		t.Fatalf("expected caller field in %q", buf.String())
	}

	buf.Reset()
	logger, _, err = New(Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("without_caller")
	if strings.Contains(buf.String(), `"caller"`) {
		t.Fatalf("unexpected caller field in %q", buf.String())
	}
}

func restoreGlobal(t *testing.T) {
	t.Helper()
	prevLogger, prevClose := globalLogger, closeGlobal
	t.Cleanup(func() {
		Sync()
		globalLogger, closeGlobal = prevLogger, prevClose
	})
}
