package huggingface

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"

	"github.com/go-resty/resty/v2"
)

const (
	defaultInferenceURL = "https://api-inference.huggingface.co"
	defaultHubURL       = "https://huggingface.co"
	modelInfoFile       = "model_info.json"
)

// 可以回答图片问题的pipeline类型
var supportedPipelines = map[string]bool{
	"visual-question-answering": true,
	"image-text-to-text":        true,
}

// Provider HuggingFace Inference API视觉问答提供者
type Provider struct {
	config *vqa.Config
	logger *utils.Logger
	client *resty.Client
	hub    *resty.Client
}

// ModelInfo 模型仓库元数据（只保留用到的字段）
type ModelInfo struct {
	ID          string `json:"id"`
	PipelineTag string `json:"pipeline_tag"`
	SHA         string `json:"sha,omitempty"`
}

type inferenceRequest struct {
	Inputs struct {
		Image    string `json:"image"`
		Question string `json:"question"`
	} `json:"inputs"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

type errorResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

func init() {
	vqa.Register("huggingface", NewProvider)
}

// NewProvider 创建HuggingFace提供者
func NewProvider(config *vqa.Config, logger *utils.Logger) (vqa.Provider, error) {
	if config.ModelName == "" {
		return nil, fmt.Errorf("缺少模型名称")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultInferenceURL
	}
	if config.HubURL == "" {
		config.HubURL = defaultHubURL
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(config.BaseURL, "/")).
		SetTimeout(5*time.Minute).
		SetHeader("Content-Type", "application/json")
	hub := resty.New().
		SetBaseURL(strings.TrimSuffix(config.HubURL, "/")).
		SetTimeout(30 * time.Second)
	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
		hub.SetAuthToken(config.APIKey)
	}

	return &Provider{
		config: config,
		logger: logger.WithTag("huggingface"),
		client: client,
		hub:    hub,
	}, nil
}

// Load 校验模型存在且为视觉问答模型，元数据缓存在cache_dir下避免重复下载
func (p *Provider) Load(ctx context.Context) error {
	info, cached, err := p.readCachedInfo()
	if err != nil {
		p.logger.Warn("读取模型缓存失败，重新获取: %v", err)
	}
	if info == nil {
		info, err = p.fetchInfo(ctx)
		if err != nil {
			return err
		}
		if err := p.writeCachedInfo(info); err != nil {
			p.logger.Warn("写入模型缓存失败: %v", err)
		}
	}

	if !supportedPipelines[info.PipelineTag] {
		return fmt.Errorf("模型 %s 的pipeline为 %q，不支持视觉问答", p.config.ModelName, info.PipelineTag)
	}

	p.logger.Info("HuggingFace模型就绪", map[string]interface{}{
		"model":    p.config.ModelName,
		"pipeline": info.PipelineTag,
		"cached":   cached,
	})
	return nil
}

func (p *Provider) cachePath() string {
	dir := "models--" + strings.ReplaceAll(p.config.ModelName, "/", "--")
	return filepath.Join(p.config.CacheDir, dir, modelInfoFile)
}

func (p *Provider) readCachedInfo() (*ModelInfo, bool, error) {
	if p.config.CacheDir == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(p.cachePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var info ModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false, err
	}
	return &info, true, nil
}

func (p *Provider) writeCachedInfo(info *ModelInfo) error {
	if p.config.CacheDir == "" {
		return nil
	}
	path := p.cachePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (p *Provider) fetchInfo(ctx context.Context) (*ModelInfo, error) {
	var info ModelInfo
	resp, err := p.hub.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/api/models/" + p.config.ModelName)
	if err != nil {
		return nil, fmt.Errorf("获取模型信息失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("获取模型信息失败: %s %s", resp.Status(), truncate(resp.String(), 200))
	}
	if info.ID == "" {
		info.ID = p.config.ModelName
	}
	return &info, nil
}

// Answer 调用HuggingFace Inference API的visual-question-answering任务
func (p *Provider) Answer(ctx context.Context, imagePath string, question string, maxNewTokens int) ([]vqa.Candidate, error) {
	data, info, err := vqa.ReadImage(imagePath)
	if err != nil {
		return nil, err
	}

	var request inferenceRequest
	request.Inputs.Image = base64.StdEncoding.EncodeToString(data)
	request.Inputs.Question = question
	request.Parameters = map[string]interface{}{
		"top_k":          max(p.config.TopK, 1),
		"max_new_tokens": maxNewTokens,
	}
	request.Options = map[string]interface{}{
		"wait_for_model": true,
	}

	p.logger.Debug("调用HuggingFace推理", map[string]interface{}{
		"model":  p.config.ModelName,
		"format": info.Format,
		"width":  info.Width,
		"height": info.Height,
		"bytes":  info.Size,
	})

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(request).
		Post("/models/" + p.config.ModelName)
	if err != nil {
		return nil, fmt.Errorf("HuggingFace API调用失败: %w", err)
	}
	if resp.IsError() {
		var e errorResponse
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("HuggingFace API返回错误 %d: %s", resp.StatusCode(), e.Error)
		}
		return nil, fmt.Errorf("HuggingFace API返回错误 %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	candidates, err := parseCandidates(resp.Body())
	if err != nil {
		return nil, err
	}
	vqa.SortCandidates(candidates)
	return candidates, nil
}

// parseCandidates 解析返回结果，兼容列表与单个对象两种格式
func parseCandidates(body []byte) ([]vqa.Candidate, error) {
	var candidates []vqa.Candidate
	if err := json.Unmarshal(body, &candidates); err == nil {
		return candidates, nil
	}
	var single vqa.Candidate
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("解析HuggingFace响应失败: %w", err)
	}
	return []vqa.Candidate{single}, nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
