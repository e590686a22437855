package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestReadEntries(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.WithComponent("hook").WithSession("a").Info("session started", "pid", 42)
	logger.WithComponent("engine").WithSession("b").Warn("spawn failed")
	logger.Debug("noise")
	_ = logger.Close()

	// A torn trailing line must not hide the rest.
	f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"time":"2024`)
	_ = f.Close()

	entries, err := ReadEntries(dir)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Component != "hook" || entries[0].SessionID != "a" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[0].Attrs["pid"] != float64(42) {
		t.Errorf("entries[0].Attrs = %v", entries[0].Attrs)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"empty filter", Filter{}, 3},
		{"level warn", Filter{Level: "warn"}, 1},
		{"session", Filter{SessionID: "a"}, 1},
		{"component", Filter{Component: "engine"}, 1},
		{"pattern", Filter{Pattern: regexp.MustCompile("spawn|noise")}, 2},
		{"since future", Filter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(FilterEntries(entries, tt.filter)); got != tt.want {
				t.Errorf("FilterEntries() = %d entries, want %d", got, tt.want)
			}
		})
	}
}

func TestReadEntries_MissingFile(t *testing.T) {
	entries, err := ReadEntries(t.TempDir())
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestEntryFormat(t *testing.T) {
	e := Entry{
		Time:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:     "INFO",
		Message:   "loop continued",
		SessionID: "s1",
		Component: "engine",
		Attrs:     map[string]any{"count": 3, "b": "x"},
	}
	got := e.Format()
	for _, want := range []string{"2024-01-02 03:04:05.000", "[engine]", "loop continued", "session=s1", "b=x count=3"} {
		if !strings.Contains(got, want) {
			t.Errorf("Format() = %q, missing %q", got, want)
		}
	}
}
