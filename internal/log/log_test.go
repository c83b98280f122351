package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Warn)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	lines := strings.Count(buf.String(), "\n")
	if lines != 2 {
		t.Fatalf("expected 2 records, got %d: %s", lines, buf.String())
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Info).With(map[string]string{"project": "demo"})
	l.Info("hello", "n", 3)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rec["project"] != "demo" || rec["msg"] != "hello" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec["n"] != float64(3) {
		t.Fatalf("kv field lost: %+v", rec)
	}
}

func TestSecretMasking(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Info)
	l.Info("auth", "api_key", "sk-1234567890abcdef")
	out := buf.String()
	if strings.Contains(out, "sk-1234567890abcdef") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "***") {
		t.Fatalf("expected redaction marker: %s", out)
	}
}
