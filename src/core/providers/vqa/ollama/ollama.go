package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"

	"github.com/go-resty/resty/v2"
)

// Provider Ollama视觉模型提供者（如llava、qwen2-vl）
type Provider struct {
	config    *vqa.Config
	logger    *utils.Logger
	client    *resty.Client
	keepAlive string // 模型在显存中保留的时长，如"5m"，为空时使用Ollama默认值
}

// ChatRequest Ollama API请求结构
type ChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// Message Ollama消息结构
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // 纯base64，不带data URL前缀
}

// ChatResponse Ollama API响应结构
type ChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func init() {
	vqa.Register("ollama", NewProvider)
}

// NewProvider 创建Ollama提供者
func NewProvider(config *vqa.Config, logger *utils.Logger) (vqa.Provider, error) {
	if config.ModelName == "" {
		return nil, fmt.Errorf("缺少模型名称")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // 默认Ollama地址
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(config.BaseURL, "/")).
		SetTimeout(5 * time.Minute)

	var keepAlive string
	if v, ok := config.Data["keep_alive"]; ok && v != nil {
		keepAlive = fmt.Sprint(v)
	}

	return &Provider{
		config:    config,
		logger:    logger.WithTag("ollama"),
		client:    client,
		keepAlive: keepAlive,
	}, nil
}

// Load 确认Ollama中已存在该模型
func (p *Provider) Load(ctx context.Context) error {
	var e errorResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"model": p.config.ModelName}).
		SetError(&e).
		Post("/api/show")
	if err != nil {
		return fmt.Errorf("连接Ollama失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Ollama模型 %s 不可用: %d %s", p.config.ModelName, resp.StatusCode(), e.Error)
	}

	p.logger.Info("Ollama模型就绪", map[string]interface{}{
		"base_url": p.config.BaseURL,
		"model":    p.config.ModelName,
	})
	return nil
}

// Answer 调用/api/chat，Ollama每次只生成一个答案
func (p *Provider) Answer(ctx context.Context, imagePath string, question string, maxNewTokens int) ([]vqa.Candidate, error) {
	data, _, err := vqa.ReadImage(imagePath)
	if err != nil {
		return nil, err
	}

	request := ChatRequest{
		Model: p.config.ModelName,
		Messages: []Message{{
			Role:    "user",
			Content: question,
			Images:  []string{base64.StdEncoding.EncodeToString(data)},
		}},
		Stream:    false,
		KeepAlive: p.keepAlive,
		Options: map[string]interface{}{
			"num_predict": maxNewTokens,
			"temperature": 0,
		},
	}

	var result ChatResponse
	var e errorResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&result).
		SetError(&e).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("Ollama API调用失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Ollama API返回错误 %d: %s", resp.StatusCode(), e.Error)
	}

	return vqa.RankedByOrder([]string{result.Message.Content}), nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}
