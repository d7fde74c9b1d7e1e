// Package cli 命令行入口，基于Cobra
package cli

import (
	"fmt"
	"os"

	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vqa-server",
	Short: "视觉问答服务",
	Long: `vqa-server 接收图片与自然语言问题，调用视觉问答模型返回简短答案。

模型在启动时加载一次，之后由所有请求共享。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认.config.yaml或config.yaml）")
}

// Execute 执行根命令，由main调用
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfigAndLogger 加载.env、配置文件并初始化日志系统
func loadConfigAndLogger(override func(*configs.Config)) (*configs.Config, *utils.Logger, error) {
	// .env 需要在配置之前加载，环境变量会覆盖配置文件
	envErr := godotenv.Load()

	config, path, err := configs.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if override != nil {
		override(config)
		if err := config.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志系统失败: %w", err)
	}
	if path == "" {
		logger.Info("未找到配置文件，使用默认配置")
	} else {
		logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", path))
	}
	if envErr != nil {
		logger.Debug("未找到 .env 文件，使用系统环境变量")
	}
	return config, logger, nil
}
