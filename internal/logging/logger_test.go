package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitSetsLevel(t *testing.T) {
	if err := Init("debug", ""); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if Logger.GetLevel().String() != "debug" {
		t.Fatalf("expected debug level, got %s", Logger.GetLevel())
	}
	if err := Init("info", ""); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
}

func TestInitCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "nested", "visaged.log")

	if err := Init("info", logFile); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	Info("hello")

	if _, err := os.Stat(logFile); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestComponentAttachesField(t *testing.T) {
	entry := Component("engine")
	if got := entry.Data["component"]; got != "engine" {
		t.Fatalf("expected component field 'engine', got %v", got)
	}
}
