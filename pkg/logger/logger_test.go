package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)
	SetGlobal(l)
	t.Cleanup(func() { SetGlobal(New()) })

	WithComponent("monitor").Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "monitor", line["component"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestConfigure(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	_, err := Configure(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = Configure(Options{Format: "xml"})
	assert.Error(t, err)

	l, err := Configure(Options{Level: "debug", Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	path := filepath.Join(t.TempDir(), "logs", "margin.log")
	l, err = Configure(Options{Output: path, MaxAgeDays: 7})
	require.NoError(t, err)
	lj, ok := l.Out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, lj.Filename)
	assert.Equal(t, 100, lj.MaxSize)
}

func TestConfigure_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	l, err := Configure(Options{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
}
