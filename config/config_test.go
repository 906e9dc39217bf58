package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asdmodel/pipeline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, c.Http.Port)
	assert.Equal(t, 30*time.Second, c.Http.Timeout)
	assert.Equal(t, "xgb_model.json", c.Artifacts.Model)
	assert.Equal(t, DefaultAPIKeyEnv, c.Auth.APIKeyEnv)
	assert.Equal(t, pipeline.DefaultLeakageFields, c.Features.LeakageFields)
	require.NoError(t, c.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9090
  timeout: 5s
log:
  level: debug
artifacts:
  dir: /srv/model
  watch: true
features:
  encoding: single_row
cache:
  size: 128
risk:
  include_level: true
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Http.Port)
	assert.Equal(t, 5*time.Second, c.Http.Timeout)
	assert.Equal(t, 5*time.Second, c.Http.ShutdownTimeout)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Artifacts.Watch)
	assert.Equal(t, 128, c.Cache.Size)

	paths := c.ArtifactPaths()
	assert.Equal(t, "/srv/model", paths.Dir)
	assert.Equal(t, "cat_fill.json", paths.CatFill)

	opts := c.PipelineOptions()
	assert.Equal(t, pipeline.EncodingSingleRow, opts.Encoding)
	assert.Equal(t, pipeline.DefaultLeakageFields, opts.LeakageFields)

	assert.Equal(t, 0.012, c.RiskBands().Low)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad encoding":   "features:\n  encoding: drop_first\n",
		"bad port":       "http:\n  port: 70000\n",
		"negative cache": "cache:\n  size: -1\n",
		"bad bands":      "risk:\n  include_level: true\n  low: 0.5\n  moderate: 0.1\n",
		"empty key env":  "auth:\n  api_key_env: \"\"\n",
		"not yaml":       "http: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	c := Default()
	c.Auth.APIKeyEnv = "ASDMODEL_TEST_KEY"

	t.Setenv("ASDMODEL_TEST_KEY", "")
	_, err := c.APIKey()
	assert.Error(t, err)

	t.Setenv("ASDMODEL_TEST_KEY", "s3cret")
	key, err := c.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", key)
}
