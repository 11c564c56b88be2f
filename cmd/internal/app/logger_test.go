package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogHandlerFormats(t *testing.T) {
	t.Parallel()

	var jsonBuf, prettyBuf bytes.Buffer

	slog.New(newLogHandler(&jsonBuf, "info", "json", false)).Info("tracker.join", "chat_id", "go")
	if !strings.Contains(jsonBuf.String(), `"msg":"tracker.join"`) {
		t.Fatalf("json output=%q", jsonBuf.String())
	}

	slog.New(newLogHandler(&prettyBuf, "info", "pretty", false)).Info("tracker.join", "chat_id", "go")
	if !strings.Contains(prettyBuf.String(), "msg=tracker.join") || !strings.Contains(prettyBuf.String(), "chat=go") {
		t.Fatalf("pretty output=%q", prettyBuf.String())
	}

	var quiet bytes.Buffer
	slog.New(newLogHandler(&quiet, "warn", "pretty", false)).Info("dropped")
	if quiet.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", quiet.String())
	}
}
