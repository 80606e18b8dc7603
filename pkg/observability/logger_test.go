package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"app":  "reports",
		"role": "leaf",
	}).WithField("attempt", 2).WithError(errors.New("login_required")).Warn("silent sign-in rejected")

	entry := decodeEntry(t, &buf)
	if entry["app"] != "reports" || entry["role"] != "leaf" {
		t.Errorf("Expected app/role fields, got %v", entry)
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("Expected attempt 2, got %v", entry["attempt"])
	}
	if entry["error"] != "login_required" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewNopLogger()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"Debugf", func() { logger.Debugf("test %s %d", "string", 42) }, "test string 42"},
		{"Infof", func() { logger.Infof("test %d", 123) }, "test 123"},
		{"Warnf", func() { logger.Warnf("warning %s", "test") }, "warning test"},
		{"Errorf", func() { logger.Errorf("error %v", "test") }, "error test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if msg := decodeEntry(t, &buf)["msg"]; msg != tt.want {
				t.Errorf("Expected %q, got %v", tt.want, msg)
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		if got := GetRequestID(ctx); got != "req-123" {
			t.Errorf("Expected request ID 'req-123', got %s", got)
		}
	})

	t.Run("BrowserID", func(t *testing.T) {
		ctx := WithBrowserID(context.Background(), "bid-456")
		if got := GetBrowserID(ctx); got != "bid-456" {
			t.Errorf("Expected browser ID 'bid-456', got %s", got)
		}
	})

	t.Run("missing values", func(t *testing.T) {
		ctx := context.Background()
		if GetRequestID(ctx) != "" || GetBrowserID(ctx) != "" {
			t.Error("Expected empty ids from a bare context")
		}
		if GetLogger(ctx) == nil {
			t.Error("Expected a default logger")
		}
	})

	t.Run("FromContext", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
		ctx = WithRequestID(ctx, "req-123")
		ctx = WithBrowserID(ctx, "bid-456")

		FromContext(ctx).Info("test message")

		entry := decodeEntry(t, &buf)
		if entry["request_id"] != "req-123" {
			t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
		}
		if entry["browser_id"] != "bid-456" {
			t.Errorf("Expected browser_id 'bid-456', got %v", entry["browser_id"])
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" DEBUG ", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
