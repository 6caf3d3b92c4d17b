package core

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRecoveredCapturesValueAndStack(t *testing.T) {
	var perr *PanicError
	func() {
		defer func() {
			if v := recover(); v != nil {
				perr = Recovered(v)
			}
		}()
		panic("boom")
	}()

	if perr == nil {
		t.Fatal("Recovered() not called")
	}
	if perr.Value != "boom" {
		t.Fatalf("Value = %v, want %q", perr.Value, "boom")
	}
	if len(perr.Stack) == 0 {
		t.Fatal("Stack is empty")
	}
	if got := perr.Error(); got != "panic: boom" {
		t.Fatalf("Error() = %q, want %q", got, "panic: boom")
	}
}

func TestPanicErrorTravelsThroughErrorsAs(t *testing.T) {
	wrapped := errors.Join(errors.New("task failed"), Recovered(42))
	var perr *PanicError
	if !errors.As(wrapped, &perr) {
		t.Fatal("errors.As() = false, want true")
	}
	if perr.Value != 42 {
		t.Fatalf("Value = %v, want 42", perr.Value)
	}
}

func TestLogSinkWritesError(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	sink.Report(t.Context(), errors.New("disk full"), slog.String("task", "backup"))

	out := buf.String()
	if !strings.Contains(out, "disk full") {
		t.Fatalf("log output missing message: %q", out)
	}
	if !strings.Contains(out, "task=backup") {
		t.Fatalf("log output missing attribute: %q", out)
	}
}

func TestAppLogFallsBackToDefault(t *testing.T) {
	app := &App{}
	if app.Log() == nil {
		t.Fatal("Log() = nil, want default logger")
	}
}

func TestAppIsPrimary(t *testing.T) {
	if (&App{}).IsPrimary() {
		t.Fatal("IsPrimary() = true for non-primary app")
	}
	if !(&App{Primary: true}).IsPrimary() {
		t.Fatal("IsPrimary() = false for primary app")
	}
	var nilApp *App
	if nilApp.IsPrimary() {
		t.Fatal("IsPrimary() = true for nil app")
	}
}
