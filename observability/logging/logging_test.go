package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("escrow funded", slog.Uint64("escrow_id", 4))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "escrow funded" || line["severity"] != "INFO" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("caller", "tl1secret"); got.Value.String() != RedactedValue {
		t.Fatalf("caller should be masked, got %v", got.Value)
	}
	if got := MaskField("method", "escrow_fund"); got.Value.String() != "escrow_fund" {
		t.Fatalf("method should pass through, got %v", got.Value)
	}
	if got := ShortAddress("client", "tl1qqqqqqqqqqqqqqqqqqqqqqqqqqqq"); got.Value.String() != "tl1qqqqq…qqqq" {
		t.Fatalf("unexpected short address %v", got.Value)
	}
}
