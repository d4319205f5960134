package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestVerbosityFiltersMessages(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbosity(int(Info))
	t.Cleanup(func() { Configure(Options{Verbosity: int(Info)}) })

	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected debug output to be suppressed, got %q", buf.String())
	}

	Infof("event=start underlying=%s", "159915.SZ")
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected info output")
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["level"] != "info" {
		t.Fatalf("expected level=info, got %v", rec["level"])
	}
	if rec["message"] != "event=start underlying=159915.SZ" {
		t.Fatalf("unexpected message %v", rec["message"])
	}
	caller, _ := rec["caller"].(string)
	if !strings.Contains(caller, "logger_test.go") {
		t.Fatalf("expected caller to point at the test file, got %q", caller)
	}
}

func TestTraceEnabledAtHighestVerbosity(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbosity(int(Trace))
	t.Cleanup(func() { Configure(Options{Verbosity: int(Info)}) })

	Tracef("fine grained")
	if !strings.Contains(buf.String(), `"level":"trace"`) {
		t.Fatalf("expected trace line, got %q", buf.String())
	}
}

func TestSetVerbosityClamps(t *testing.T) {
	t.Cleanup(func() { SetVerbosity(int(Info)) })

	SetVerbosity(42)
	if Verbosity() != Trace {
		t.Fatalf("expected clamp to Trace, got %d", Verbosity())
	}
	SetVerbosity(-3)
	if Verbosity() != Error {
		t.Fatalf("expected clamp to Error, got %d", Verbosity())
	}
}

func TestWithCarriesFieldsAndVerbosity(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbosity(int(Info))
	t.Cleanup(func() { Configure(Options{Verbosity: int(Info)}) })

	lg := With(map[string]string{"underlying": "159915.SZ", "exchange": "SZSE"})
	lg.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug output to be suppressed, got %q", buf.String())
	}

	lg.Info().Int("entry_dates", 3).Msg("event=loaded")
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["underlying"] != "159915.SZ" || rec["exchange"] != "SZSE" {
		t.Fatalf("expected run fields on the line, got %v", rec)
	}
	if rec["entry_dates"] != float64(3) {
		t.Fatalf("unexpected entry_dates %v", rec["entry_dates"])
	}
	caller, _ := rec["caller"].(string)
	if !strings.Contains(caller, "logger_test.go") {
		t.Fatalf("expected caller to point at the test file, got %q", caller)
	}
}
