package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	cfg.BatchWindow = 20 * time.Millisecond
	cfg.RequestTimeout = 2000 * time.Millisecond
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsWatermarkAboveCapacity(t *testing.T) {
	cfg := Default()
	cfg.QueueMaxSize = 10
	cfg.QueueHighWatermark = 20
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsTimeoutNotExceedingWindow(t *testing.T) {
	cfg := Default()
	cfg.BatchWindow = 100 * time.Millisecond
	cfg.RequestTimeout = 50 * time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("BATCH_MAX_SIZE", "16")
	os.Setenv("MODEL_PATH", "/tmp/model.json")
	defer os.Unsetenv("BATCH_MAX_SIZE")
	defer os.Unsetenv("MODEL_PATH")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.BatchMaxSize)
	assert.Equal(t, "/tmp/model.json", cfg.ModelPath)
}

func TestLoadFromYAMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("batch_max_size: 64\nmodel_path: /opt/model.json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.BatchMaxSize)
	assert.Equal(t, "/opt/model.json", cfg.ModelPath)
}
