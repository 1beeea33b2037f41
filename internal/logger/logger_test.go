package logger

import (
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Dir: dir, Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("tenant registered", zap.String(FieldAlias, "tenant_1"))
	_ = log.Sync()

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("want one log file, got %v (err %v)", entries, err)
	}
	b, _ := os.ReadFile(dir + "/" + entries[0].Name())
	if !strings.Contains(string(b), `"alias":"tenant_1"`) {
		t.Fatalf("log line missing alias field: %s", b)
	}
	if zap.L() != log {
		t.Fatalf("global logger not replaced")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
