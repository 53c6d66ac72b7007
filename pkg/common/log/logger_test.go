package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStandardLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
	)

	levels := []struct {
		name string
		log  func(string, ...interface{})
		msg  string
	}{
		{"DEBUG", logger.Debug, "This is a debug message"},
		{"INFO", logger.Info, "This is an info message"},
		{"WARN", logger.Warn, "This is a warning message"},
		{"ERROR", logger.Error, "This is an error message"},
	}
	for _, lv := range levels {
		lv.log(lv.msg)
		if !strings.Contains(buf.String(), lv.name) || !strings.Contains(buf.String(), lv.msg) {
			t.Errorf("%s logging failed, got: %s", lv.name, buf.String())
		}
		buf.Reset()
	}

	// Test with fields
	loggerWithFields := logger.WithFields(map[string]interface{}{
		"component": "test",
		"count":     123,
	})
	loggerWithFields.Info("Message with fields")
	output := buf.String()
	if !strings.Contains(output, "Message with fields") ||
		!strings.Contains(output, `"component"`) ||
		!strings.Contains(output, `"test"`) ||
		!strings.Contains(output, "123") {
		t.Errorf("Logging with fields failed, got: %s", output)
	}
	buf.Reset()

	// Level filtering applies to derived loggers too
	logger.SetLevel(LevelError)
	logger.Debug("This debug message should not appear")
	logger.Info("This info message should not appear")
	loggerWithFields.Warn("This warning message should not appear")
	logger.Error("This error message should appear")
	output = buf.String()
	if strings.Contains(output, "should not appear") ||
		!strings.Contains(output, "This error message should appear") {
		t.Errorf("Level filtering failed, got: %s", output)
	}
	buf.Reset()

	logger.SetLevel(LevelInfo)
	logger.Info("Formatted %s with %d params", "message", 2)
	if !strings.Contains(buf.String(), "Formatted message with 2 params") {
		t.Errorf("Formatted message failed, got: %s", buf.String())
	}
	buf.Reset()

	if logger.GetLevel() != LevelInfo {
		t.Errorf("GetLevel failed, expected LevelInfo, got: %v", logger.GetLevel())
	}
	if loggerWithFields.GetLevel() != LevelInfo {
		t.Errorf("derived logger level not shared, got: %v", loggerWithFields.GetLevel())
	}
}

func TestDefaultLogger(t *testing.T) {
	originalLogger := defaultLogger
	defer func() {
		defaultLogger = originalLogger
	}()

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(
		WithOutput(&buf),
		WithLevel(LevelInfo),
	))

	Info("Global info message")
	if !strings.Contains(buf.String(), "INFO") || !strings.Contains(buf.String(), "Global info message") {
		t.Errorf("Global info logging failed, got: %s", buf.String())
	}
	buf.Reset()

	WithField("global", true).Info("Global with field")
	output := buf.String()
	if !strings.Contains(output, "Global with field") ||
		!strings.Contains(output, `"global"`) ||
		!strings.Contains(output, "true") {
		t.Errorf("Global logging with field failed, got: %s", output)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("dropped")
	if l.GetLevel() != LevelFatal {
		t.Errorf("expected LevelFatal, got %v", l.GetLevel())
	}
}
