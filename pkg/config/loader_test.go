package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig(t *testing.T) {
	t.Run("env file overrides base and secrets are substituted", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "base.yaml", `
model:
  endpoint: http://localhost:11434
  name: llama3.2
  timeout: 30s
db:
  host: localhost
  password: ${DB_PASSWORD}
`)
		writeFile(t, dir, "production.yaml", `
model:
  endpoint: http://ollama:11434
`)
		writeFile(t, dir, "secrets.env", "DB_PASSWORD=s3cret\n")

		cfg, err := LoadConfig("production", dir)
		require.NoError(t, err)

		var out struct {
			Model struct {
				Endpoint string `yaml:"endpoint"`
				Name     string `yaml:"name"`
			} `yaml:"model"`
			DB struct {
				Host     string `yaml:"host"`
				Password string `yaml:"password"`
			} `yaml:"db"`
		}
		require.NoError(t, Decode(cfg, &out))
		assert.Equal(t, "http://ollama:11434", out.Model.Endpoint)
		assert.Equal(t, "llama3.2", out.Model.Name)
		assert.Equal(t, "localhost", out.DB.Host)
		assert.Equal(t, "s3cret", out.DB.Password)
	})

	t.Run("missing env file is ignored", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "base.yaml", "worker:\n  concurrency: 4\n")

		cfg, err := LoadConfig("staging", dir)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"concurrency": 4}, cfg["worker"])
	})

	t.Run("missing base fails", func(t *testing.T) {
		_, err := LoadConfig("local", t.TempDir())
		assert.Error(t, err)
	})
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]interface{}{
		"a": 1,
		"nested": map[string]interface{}{"x": 1, "y": 2},
	}
	src := map[string]interface{}{
		"b":      2,
		"nested": map[string]interface{}{"y": 3},
	}

	got := mergeMaps(dst, src)
	assert.Equal(t, map[string]interface{}{
		"a":      1,
		"b":      2,
		"nested": map[string]interface{}{"x": 1, "y": 3},
	}, got)
	assert.Equal(t, 2, dst["nested"].(map[string]interface{})["y"])
}

func TestSubstituteString(t *testing.T) {
	env := map[string]string{"HOST": "db", "PORT": "5432"}
	assert.Equal(t, "db:5432", substituteString("${HOST}:${PORT}", env))
	assert.Equal(t, "${MISSING}", substituteString("${MISSING}", env))
	assert.Equal(t, "plain", substituteString("plain", env))
}
