package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ernie/mcauth/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSONToFile(t *testing.T) {
	logger := log.New()
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "mcauth.log")

	closer, err := configure(logger, config.LogConfig{
		Level:     "debug",
		Format:    "json",
		File:      path,
		MaxSizeMB: 1,
	}, &stderr)
	require.NoError(t, err)

	logger.WithField("chat_id", "discord-alice").Debug("hello")
	require.NoError(t, closer.Close())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "discord-alice", entry["chat_id"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stderr.String(), string(data))
}

func TestConfigureRejectsBadValues(t *testing.T) {
	_, err := configure(log.New(), config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = configure(log.New(), config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestConfigureLevelFilters(t *testing.T) {
	logger := log.New()
	var stderr bytes.Buffer
	_, err := configure(logger, config.LogConfig{Level: "warn"}, &stderr)
	require.NoError(t, err)

	logger.Info("quiet")
	assert.Empty(t, stderr.String())
	logger.Warn("loud")
	assert.Contains(t, stderr.String(), "loud")
}
