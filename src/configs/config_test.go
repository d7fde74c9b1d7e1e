package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"VQA_PROVIDER", "VQA_MODEL", "VQA_CACHE_DIR", "VQA_PORT", "HF_TOKEN", "OPENAI_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	config, path, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, path)

	assert.Equal(t, "0.0.0.0:8080", config.Addr())
	name, vqaConfig := config.SelectedVQA()
	assert.Equal(t, "huggingface", name)
	assert.Equal(t, "Salesforce/blip-vqa-capfilt-large", vqaConfig.ModelName)
	assert.Equal(t, 20, vqaConfig.MaxNewTokens)
	assert.Equal(t, 1, vqaConfig.TopK)
	assert.Equal(t, 2*time.Minute, vqaConfig.LoadTimeout)
	assert.NotEmpty(t, vqaConfig.TempDir)
	assert.NotEmpty(t, vqaConfig.CacheDir)
	assert.True(t, config.Metrics.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
  max_concurrent: 2
  request_timeout: 30s
selected_module:
  VQA: local
VQA:
  local:
    type: ollama
    model_name: llava:13b
    url: http://gpu-box:11434
    max_new_tokens: 12
    keep_alive: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, 2, config.Server.MaxConcurrent)
	assert.Equal(t, 30*time.Second, config.Server.RequestTimeout)

	name, vqaConfig := config.SelectedVQA()
	assert.Equal(t, "local", name)
	assert.Equal(t, "ollama", vqaConfig.Type)
	assert.Equal(t, "llava:13b", vqaConfig.ModelName)
	assert.Equal(t, "http://gpu-box:11434", vqaConfig.BaseURL)
	assert.Equal(t, 12, vqaConfig.MaxNewTokens)
	assert.Equal(t, "5m", vqaConfig.Extra["keep_alive"])

	// 默认条目仍然保留
	assert.Contains(t, config.VQA, "huggingface")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VQA_PROVIDER", "openai")
	t.Setenv("VQA_MODEL", "gpt-4o")
	t.Setenv("VQA_PORT", "7000")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	config, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7000, config.Server.Port)
	name, vqaConfig := config.SelectedVQA()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "gpt-4o", vqaConfig.ModelName)
	assert.Equal(t, "sk-test", vqaConfig.APIKey)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"未知提供者", "selected_module:\n  VQA: nope\n"},
		{"端口越界", "server:\n  port: 70000\n"},
		{"并发为负", "server:\n  max_concurrent: -1\n"},
		{"缺少模型", "VQA:\n  huggingface:\n    type: huggingface\n"},
		{"YAML语法错误", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, _, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyDefaultsFillsType(t *testing.T) {
	config := DefaultConfig()
	config.VQA["custom"] = VQAConfig{ModelName: "x"}
	config.applyDefaults()
	assert.Equal(t, "custom", config.VQA["custom"].Type)
	assert.Equal(t, 20, config.VQA["custom"].MaxNewTokens)
}
