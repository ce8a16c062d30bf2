package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsZeroThreads(t *testing.T) {
	cfg := Default()
	cfg.NumThreads = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownPriorityFunction(t *testing.T) {
	cfg := Default()
	cfg.PriorityFunction = "not_a_real_priority"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBucketForS3(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "s3"
	assert.Error(t, cfg.Validate())
	cfg.Storage.S3.Bucket = "lidar-nodes"
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "index.yaml")

	cfg := Default()
	cfg.NumThreads = 8
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.NumThreads)
	assert.Equal(t, cfg.MaxLod, loaded.MaxLod)
}
