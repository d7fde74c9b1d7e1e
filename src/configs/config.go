package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP             string        `yaml:"ip"`
		Port           int           `yaml:"port"`
		MaxUploadSize  int64         `yaml:"max_upload_size"` // 上传请求体上限（字节）
		MaxConcurrent  int           `yaml:"max_concurrent"`  // 同时进行的推理数量，0表示不限制
		RequestTimeout time.Duration `yaml:"request_timeout"` // 单次推理超时，0表示不限制
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	SelectedModule map[string]string `yaml:"selected_module"`

	VQA map[string]VQAConfig `yaml:"VQA"`
}

// VQAConfig 视觉问答模型配置
type VQAConfig struct {
	Type         string                 `yaml:"type"`           // 后端类型：huggingface, openai, ollama, llava
	ModelName    string                 `yaml:"model_name"`     // 预训练模型标识，部署时固定
	BaseURL      string                 `yaml:"url"`            // 推理API地址
	HubURL       string                 `yaml:"hub_url"`        // 模型仓库地址（huggingface）
	APIKey       string                 `yaml:"api_key"`        // API密钥
	MaxNewTokens int                    `yaml:"max_new_tokens"` // 生成答案的最大token数
	TopK         int                    `yaml:"top_k"`          // 返回的候选答案数量
	CacheDir     string                 `yaml:"cache_dir"`      // 模型缓存目录
	TempDir      string                 `yaml:"temp_dir"`       // 临时图片目录
	LoadTimeout  time.Duration          `yaml:"load_timeout"`   // 单次模型加载超时
	LoadAttempts int                    `yaml:"load_attempts"`  // 模型加载尝试次数
	RetryDelay   time.Duration          `yaml:"retry_delay"`    // 加载重试间隔
	Binary       string                 `yaml:"binary"`         // 本地推理程序（llava）
	ModelFile    string                 `yaml:"model_file"`     // 本地模型权重（llava）
	ProjFile     string                 `yaml:"mmproj_file"`    // 本地视觉投影权重（llava）
	Extra        map[string]interface{} `yaml:",inline"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	config := &Config{}
	config.Server.IP = "0.0.0.0"
	config.Server.Port = 8080
	config.Server.MaxUploadSize = 10 * 1024 * 1024
	config.Log.LogFormat = "json"
	config.Log.LogLevel = "info"
	config.Log.LogDir = "logs"
	config.Log.LogFile = "server.log"
	config.Metrics.Enabled = true
	config.Metrics.Path = "/metrics"
	config.SelectedModule = map[string]string{"VQA": "huggingface"}
	config.VQA = map[string]VQAConfig{
		"huggingface": {
			Type:      "huggingface",
			ModelName: "Salesforce/blip-vqa-capfilt-large",
			BaseURL:   "https://api-inference.huggingface.co",
			HubURL:    "https://huggingface.co",
		},
		"openai": {
			Type:      "openai",
			ModelName: "gpt-4o-mini",
			BaseURL:   "https://api.openai.com/v1",
		},
		"ollama": {
			Type:      "ollama",
			ModelName: "llava:7b",
			BaseURL:   "http://localhost:11434",
		},
		"llava": {
			Type:      "llava",
			ModelName: "llava-v1.5-7b",
			Binary:    "llava-cli",
			ModelFile: "ggml-model-q4_k.gguf",
			ProjFile:  "mmproj-model-f16.gguf",
		},
	}
	return config
}

// LoadConfig 从文件加载配置，path为空时依次尝试.config.yaml与config.yaml，文件不存在时使用默认配置
func LoadConfig(path string) (*Config, string, error) {
	if path == "" {
		path = ".config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = "config.yaml"
		}
	}

	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, path, err
		}
		path = ""
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, path, err
	}
	return config, path, nil
}

// applyEnv 使用环境变量覆盖配置
func (c *Config) applyEnv() {
	if c.SelectedModule == nil {
		c.SelectedModule = map[string]string{"VQA": "huggingface"}
	}
	if c.VQA == nil {
		c.VQA = map[string]VQAConfig{}
	}
	if v := os.Getenv("VQA_PROVIDER"); v != "" {
		c.SelectedModule["VQA"] = v
	}
	if v := os.Getenv("VQA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	name := c.SelectedModule["VQA"]
	vqaConfig, ok := c.VQA[name]
	if !ok {
		return
	}
	if v := os.Getenv("VQA_MODEL"); v != "" {
		vqaConfig.ModelName = v
	}
	if v := os.Getenv("VQA_CACHE_DIR"); v != "" {
		vqaConfig.CacheDir = v
	}
	if vqaConfig.APIKey == "" {
		switch vqaConfig.Type {
		case "huggingface":
			vqaConfig.APIKey = os.Getenv("HF_TOKEN")
		case "openai":
			vqaConfig.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	c.VQA[name] = vqaConfig
}

// applyDefaults 补全未配置的模型参数
func (c *Config) applyDefaults() {
	for name, vqaConfig := range c.VQA {
		if vqaConfig.Type == "" {
			vqaConfig.Type = name
		}
		if vqaConfig.MaxNewTokens == 0 {
			vqaConfig.MaxNewTokens = 20
		}
		if vqaConfig.TopK == 0 {
			vqaConfig.TopK = 1
		}
		if vqaConfig.LoadTimeout == 0 {
			vqaConfig.LoadTimeout = 2 * time.Minute
		}
		if vqaConfig.LoadAttempts == 0 {
			vqaConfig.LoadAttempts = 1
		}
		if vqaConfig.RetryDelay == 0 {
			vqaConfig.RetryDelay = 5 * time.Second
		}
		if vqaConfig.TempDir == "" {
			vqaConfig.TempDir = filepath.Join(os.TempDir(), "vqa-images")
		}
		if vqaConfig.CacheDir == "" {
			vqaConfig.CacheDir = defaultCacheDir()
		}
		c.VQA[name] = vqaConfig
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("无效的端口: %d", c.Server.Port)
	}
	if c.Server.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent不能为负数: %d", c.Server.MaxConcurrent)
	}
	name := c.SelectedModule["VQA"]
	if name == "" {
		return fmt.Errorf("请设置selected_module.VQA")
	}
	vqaConfig, ok := c.VQA[name]
	if !ok {
		return fmt.Errorf("未找到VQA配置: %s", name)
	}
	if vqaConfig.ModelName == "" {
		return fmt.Errorf("VQA配置 %s 缺少model_name", name)
	}
	if vqaConfig.MaxNewTokens < 1 {
		return fmt.Errorf("max_new_tokens必须大于0: %d", vqaConfig.MaxNewTokens)
	}
	return nil
}

// SelectedVQA 返回当前选中的VQA配置名称与配置
func (c *Config) SelectedVQA() (string, VQAConfig) {
	name := c.SelectedModule["VQA"]
	return name, c.VQA[name]
}

// Addr 返回HTTP监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.IP, c.Server.Port)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vqa-server")
}
