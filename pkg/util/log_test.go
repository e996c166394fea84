package util

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func saveLoggerState() (io.Writer, logrus.Level, logrus.Formatter) {
	return Logger.Out, Logger.Level, Logger.Formatter
}

func restoreLoggerState(out io.Writer, level logrus.Level, formatter logrus.Formatter) {
	Logger.SetOutput(out)
	Logger.SetLevel(level)
	Logger.SetFormatter(formatter)
}

func TestSetLogLevel(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"loud", true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := SetLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
		})
	}
}

func TestWithLab_JSON(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	SetJSONFormat()

	WithLab("9fde5f").Info("lab started")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["lab"] != "9fde5f" {
		t.Errorf("lab field = %v, want 9fde5f", entry["lab"])
	}
	if entry["msg"] != "lab started" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestDebugfSuppressedAtInfo(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	Logger.SetLevel(logrus.InfoLevel)

	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("debug output at info level: %q", buf.String())
	}

	Warnf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("warn output missing: %q", buf.String())
	}
}

func TestSetLogOutput_ReturnsPrevious(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var first, second bytes.Buffer
	SetLogOutput(&first)
	prev := SetLogOutput(&second)
	if prev != &first {
		t.Fatalf("SetLogOutput returned %v, want the first writer", prev)
	}
	Warnf("to second")
	SetLogOutput(prev)
	Warnf("to first")

	if !strings.Contains(second.String(), "to second") || strings.Contains(second.String(), "to first") {
		t.Errorf("second writer got %q", second.String())
	}
	if !strings.Contains(first.String(), "to first") {
		t.Errorf("first writer got %q", first.String())
	}
}
