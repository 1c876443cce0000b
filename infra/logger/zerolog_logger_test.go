package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	require.NotNil(t, l)
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestSetupWritesRotatedFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	path := filepath.Join(t.TempDir(), "taxi.log")
	closer, err := Setup(Options{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer func() {
		_, _ = Setup(Options{})
	}()

	l := New("taxi")
	l.Debugf("hidden")
	l.(*ZerologLogger).With("taxi_id", 7).Infof("visible")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"taxi"`)
	assert.Contains(t, string(data), `"taxi_id":7`)
	assert.Contains(t, string(data), "visible")
	assert.False(t, strings.Contains(string(data), "hidden"))
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
}
