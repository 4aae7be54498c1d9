package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:7777", cfg.Server.Addr)
	assert.Equal(t, "claude", cfg.Agents.Implementer.Command)
	assert.Equal(t, 10*time.Minute, cfg.Agents.Implementer.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Agents.Reviewer.Timeout)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Paths.DataDir)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  addr: "0.0.0.0:9000"
agents:
  reviewer:
    command: my-reviewer
    timeout: 90s
paths:
  data_dir: /tmp/orc-test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "my-reviewer", cfg.Agents.Reviewer.Command)
	assert.Equal(t, 90*time.Second, cfg.Agents.Reviewer.Timeout)
	assert.Equal(t, "/tmp/orc-test", cfg.Paths.DataDir)

	// Untouched keys keep their defaults.
	assert.Equal(t, "claude", cfg.Agents.Implementer.Command)
	assert.Equal(t, filepath.Join("/tmp/orc-test", "sessions"), cfg.Paths.SessionsDir())
	assert.Equal(t, filepath.Join("/tmp/orc-test", "queue"), cfg.Paths.QueueDir())
}
