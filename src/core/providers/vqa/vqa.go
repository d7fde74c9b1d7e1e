package vqa

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"vqa-server-go/src/core/image"
)

// Candidate 模型返回的候选答案
type Candidate struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
}

// Provider 视觉问答推理能力
// Load在启动时调用一次，之后Answer可被多个请求并发调用
type Provider interface {
	// Load 加载或校验模型，失败时服务不应对外提供流量
	Load(ctx context.Context) error
	// Answer 对imagePath处的图片回答question，按置信度降序返回候选答案
	Answer(ctx context.Context, imagePath string, question string, maxNewTokens int) ([]Candidate, error)
	// Cleanup 清理资源
	Cleanup() error
}

// Config VQA配置结构
type Config struct {
	Type         string
	ModelName    string
	BaseURL      string
	HubURL       string
	APIKey       string
	MaxNewTokens int
	TopK         int
	CacheDir     string
	Binary       string
	ModelFile    string
	ProjFile     string
	Data         map[string]interface{}
}

// SortCandidates 按置信度降序排序，置信度相同时保持原顺序
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

// ReadImage 读取临时图片并检测格式，非图片数据返回错误
func ReadImage(imagePath string) ([]byte, image.Info, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, image.Info{}, fmt.Errorf("读取图片失败: %w", err)
	}
	info, err := image.Inspect(data)
	if err != nil {
		return nil, image.Info{}, err
	}
	return data, info, nil
}

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?(</think>|$)`)

// StripThinkTags 去掉推理模型输出中的<think>思考内容
func StripThinkTags(content string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
}

// RankedByOrder 将按生成顺序排列的文本转换为候选答案，第i个的置信度为1/(i+1)
// 用于不返回置信度的生成式后端
func RankedByOrder(answers []string) []Candidate {
	candidates := make([]Candidate, 0, len(answers))
	for _, answer := range answers {
		answer = StripThinkTags(answer)
		if answer == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Answer: answer,
			Score:  1 / float64(len(candidates)+1),
		})
	}
	return candidates
}
