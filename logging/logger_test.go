package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "INFO", LogLevelInfo.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
}

func TestStateMeshLoggerAttachesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{
		Level:  LogLevelDebug,
		Format: "json",
		Output: &buf,
	})

	logger.WithComponent("engine").
		WithInstance("trafficLight", "intersection-1").
		WithContext("event", "TIMER").
		Info("macrostep completed")

	out := buf.String()
	assert.Contains(t, out, `"component":"engine"`)
	assert.Contains(t, out, `"machine_kind":"trafficLight"`)
	assert.Contains(t, out, `"instance_id":"intersection-1"`)
	assert.Contains(t, out, `"event":"TIMER"`)
}

func TestStateMeshLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{
		Level:  LogLevelWarn,
		Format: "text",
		Output: &buf,
	})

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept warn")
	logger.Error("kept error")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept warn")
	assert.Contains(t, out, "kept error")
}

func TestLogMacrostep(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{
		Level:  LogLevelDebug,
		Format: "json",
		Output: &buf,
	})

	logger.LogMacrostep("TIMER", 2, "green", 5*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Macrostep completed")

	buf.Reset()
	logger.LogMacrostep("TIMER", 0, "green", time.Millisecond, errors.New("loop"))
	assert.Contains(t, buf.String(), "Macrostep failed")
}

func TestLogServiceCall(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{
		Level:  LogLevelDebug,
		Format: "json",
		Output: &buf,
	})

	logger.LogServiceCall("processMaterial", "Processing", time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Service completed")

	buf.Reset()
	logger.LogServiceCall("processMaterial", "Processing", time.Millisecond, errors.New("backend down"))
	assert.Contains(t, buf.String(), "Service failed")
	assert.Contains(t, buf.String(), "backend down")
}

func TestNoOpLoggerDiscards(t *testing.T) {
	var l Logger = NoOpLogger{}
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
}
