package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew_ValidLevels tests creating loggers with valid log levels
func TestNew_ValidLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			log, err := New(level, "text")
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

// TestNew_InvalidLevel tests creating logger with invalid log level
func TestNew_InvalidLevel(t *testing.T) {
	log, err := New("invalid", "text")

	assert.Error(t, err)
	assert.Nil(t, log)
	assert.Contains(t, err.Error(), "invalid log level")
}

// TestNew_InvalidFormat tests creating logger with invalid format
func TestNew_InvalidFormat(t *testing.T) {
	log, err := New("info", "xml")

	assert.Error(t, err)
	assert.Nil(t, log)
	assert.Contains(t, err.Error(), "invalid log format")
}

// TestNewWithWriter_TextFormat tests logger with custom writer in text format
func TestNewWithWriter_TextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter("info", "text", buf)
	require.NoError(t, err)

	log.Info("refresh finished", "services", 3)

	output := buf.String()
	assert.Contains(t, output, "refresh finished")
	assert.Contains(t, output, "level=info")
	assert.Contains(t, output, "services=3")
	assert.Regexp(t, `\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`, output)
}

// TestNewWithWriter_JSONFormat tests logger with custom writer in JSON format
func TestNewWithWriter_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter("info", "json", buf)
	require.NoError(t, err)

	log.Warn("refresh failed", "error", "boom")

	output := buf.String()
	assert.Contains(t, output, "\"level\":\"warning\"")
	assert.Contains(t, output, "\"msg\":\"refresh failed\"")
	assert.Contains(t, output, "\"error\":\"boom\"")
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 1)
}

// TestDomainFields tests the domain specific context helpers
func TestDomainFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter("info", "json", buf)
	require.NoError(t, err)

	log.WithCustomerNumber("1234-5678").Info("a")
	log.WithServicePos(7).Info("b")
	log.WithView("7@1234-5678").Info("c")
	log.WithError(assert.AnError).Error("d")

	output := buf.String()
	assert.Contains(t, output, "\"customer_number\":\"1234-5678\"")
	assert.Contains(t, output, "\"service_pos\":7")
	assert.Contains(t, output, "\"view\":\"7@1234-5678\"")
	assert.Contains(t, output, "\"error\":\"assert.AnError")
}

// TestLogLevels tests that log levels are respected
func TestLogLevels(t *testing.T) {
	tests := []struct {
		name         string
		level        string
		shouldLog    string
		shouldNotLog string
	}{
		{name: "debug level logs everything", level: "debug", shouldLog: "debug"},
		{name: "info level skips debug", level: "info", shouldLog: "info", shouldNotLog: "debug"},
		{name: "warn level skips info", level: "warn", shouldLog: "warn", shouldNotLog: "info"},
		{name: "error level only logs errors", level: "error", shouldLog: "error", shouldNotLog: "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log, err := NewWithWriter(tt.level, "text", buf)
			require.NoError(t, err)

			log.Debug("debug message")
			log.Info("info message")
			log.Warn("warn message")
			log.Error("error message")

			output := buf.String()
			assert.Contains(t, output, tt.shouldLog+" message")
			if tt.shouldNotLog != "" {
				assert.NotContains(t, output, tt.shouldNotLog+" message")
			}
		})
	}
}

// TestDiscard tests that the discard logger accepts calls without output
func TestDiscard(t *testing.T) {
	log := Discard()
	require.NotNil(t, log)

	assert.NotPanics(t, func() {
		log.Error("dropped", "key", "value")
		log.WithServicePos(1).Warn("dropped")
	})
}
