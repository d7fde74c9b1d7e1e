package openai

import (
	"context"
	"encoding/base64"
	"fmt"

	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

// Provider OpenAI兼容接口的视觉模型提供者（如gpt-4o-mini、glm-4v-flash）
type Provider struct {
	config *vqa.Config
	logger *utils.Logger
	client *openai.Client
}

func init() {
	vqa.Register("openai", NewProvider)
}

// NewProvider 创建OpenAI提供者
func NewProvider(config *vqa.Config, logger *utils.Logger) (vqa.Provider, error) {
	if config.ModelName == "" {
		return nil, fmt.Errorf("缺少模型名称")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Provider{
		config: config,
		logger: logger.WithTag("openai"),
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Load 通过模型查询接口确认模型可用
func (p *Provider) Load(ctx context.Context) error {
	model, err := p.client.GetModel(ctx, p.config.ModelName)
	if err != nil {
		return fmt.Errorf("OpenAI模型 %s 不可用: %w", p.config.ModelName, err)
	}

	p.logger.Info("OpenAI模型就绪", map[string]interface{}{
		"model":    model.ID,
		"owned_by": model.OwnedBy,
	})
	return nil
}

// Answer 发送文本+图片的多模态消息，每个choice作为一个候选答案
func (p *Provider) Answer(ctx context.Context, imagePath string, question string, maxNewTokens int) ([]vqa.Candidate, error) {
	data, info, err := vqa.ReadImage(imagePath)
	if err != nil {
		return nil, err
	}

	visionMessage := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: question,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", info.MimeType(), base64.StdEncoding.EncodeToString(data)),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.config.ModelName,
		Messages:  []openai.ChatCompletionMessage{visionMessage},
		MaxTokens: maxNewTokens,
		N:         max(p.config.TopK, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI Vision API调用失败: %w", err)
	}

	answers := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		answers = append(answers, choice.Message.Content)
	}
	p.logger.Debug("OpenAI Vision API调用成功", map[string]interface{}{
		"choices":           len(resp.Choices),
		"completion_tokens": resp.Usage.CompletionTokens,
	})

	return vqa.RankedByOrder(answers), nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}
