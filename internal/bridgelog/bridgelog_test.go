package bridgelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	log, closeFn, err := New(path, logrus.InfoLevel)
	require.NoError(t, err)
	defer closeFn()

	log.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNewEmptyPathLogsToStderrOnly(t *testing.T) {
	log, closeFn, err := New("", logrus.WarnLevel)
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
}

func TestParseLevelValid(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
}

func TestParseLevelInvalidDefaultsToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, ParseLevel("not-a-level"))
}
