package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"vqa-server-go/src/answer"
	"vqa-server-go/src/core/providers/vqa"

	"github.com/spf13/cobra"
)

var (
	askImage    string
	askQuestion string
)

func init() {
	askCmd.Flags().StringVarP(&askImage, "image", "i", "", "图片文件路径")
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "关于图片的问题")
	_ = askCmd.MarkFlagRequired("image")
	_ = askCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(askCmd, providersCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "不启动HTTP服务，直接对一张图片提问",
	Example: `  vqa-server ask --image apple.jpg --question "What color is the fruit?"`,
	RunE: runAsk,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "列出已注册的VQA后端类型",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range vqa.GetRegisteredProviders() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func runAsk(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(askImage)
	if err != nil {
		return fmt.Errorf("读取图片失败: %w", err)
	}

	config, logger, err := loadConfigAndLogger(nil)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx := context.Background()
	service, err := answer.LoadService(ctx, config, logger)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.AnswerQuestion(ctx, data, askQuestion)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(result))
	return nil
}
