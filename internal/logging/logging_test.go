package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	logger, closer, err := New(Options{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", logger.Formatter)
	}
}

func TestNewInvalid(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csi.log")

	logger, closer, err := New(Options{Level: "info", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.WithField("width", 4).Warn("degraded batch")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "degraded batch") || !strings.Contains(string(data), "width=4") {
		t.Errorf("unexpected log file content: %s", data)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("expected a logger")
	}
	l := logrus.New()
	if OrDiscard(l) != l {
		t.Error("expected the given logger back")
	}
}
