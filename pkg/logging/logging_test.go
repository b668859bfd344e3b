package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rangekit/pkg/settings"
)

func TestInitFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "apps.log")

	s := settings.Defaults()
	s.LogFile = logFile
	s.LogLevel = "debug"

	require.NoError(t, Init(s))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	L().Info("hello", zap.String("app", "scale"))
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "scale", entry["app"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "caller")
}

func TestInitRejectsBadLevel(t *testing.T) {
	s := settings.Defaults()
	s.LogLevel = "shouty"
	require.Error(t, Init(s))
}

func TestParseLevelWarnAlias(t *testing.T) {
	for _, level := range []string{"warn", "warning", "WARN"} {
		lvl, err := parseLevel(level)
		require.NoError(t, err)
		assert.Equal(t, "warn", lvl.String())
	}
}
