package vqa

import (
	"fmt"
	"sort"
	"sync"

	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/utils"
)

// Factory VQA工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register 注册VQA提供者工厂
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Create 根据配置创建VQA提供者实例，不加载模型
func Create(vqaConfig *configs.VQAConfig, logger *utils.Logger) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[vqaConfig.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知的VQA提供者: %s", vqaConfig.Type)
	}

	// 转换配置格式
	config := &Config{
		Type:         vqaConfig.Type,
		ModelName:    vqaConfig.ModelName,
		BaseURL:      vqaConfig.BaseURL,
		HubURL:       vqaConfig.HubURL,
		APIKey:       vqaConfig.APIKey,
		MaxNewTokens: vqaConfig.MaxNewTokens,
		TopK:         vqaConfig.TopK,
		CacheDir:     vqaConfig.CacheDir,
		Binary:       vqaConfig.Binary,
		ModelFile:    vqaConfig.ModelFile,
		ProjFile:     vqaConfig.ProjFile,
		Data:         vqaConfig.Extra,
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建VQA提供者失败: %w", err)
	}

	logger.Debug("VQA提供者创建成功", map[string]interface{}{
		"type":       config.Type,
		"model_name": config.ModelName,
	})

	return provider, nil
}

// GetRegisteredProviders 获取已注册的提供者列表
func GetRegisteredProviders() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	providers := make([]string, 0, len(factories))
	for name := range factories {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}
