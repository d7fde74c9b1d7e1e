package llava

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"
)

// llava-cli在答案前打印的最后一行日志结尾
const outputAnchor = "per image patch)"

// Provider 调用本地llava命令行程序，直接读取临时图片路径
// 本地显存只够单个推理，同一时间只运行一个llava进程
type Provider struct {
	mu        sync.Mutex
	config    *vqa.Config
	logger    *utils.Logger
	binary    string
	modelPath string
	projPath  string
}

func init() {
	vqa.Register("llava", NewProvider)
}

// NewProvider 创建llava提供者
func NewProvider(config *vqa.Config, logger *utils.Logger) (vqa.Provider, error) {
	if config.Binary == "" {
		return nil, fmt.Errorf("缺少llava程序路径")
	}
	if config.ModelFile == "" || config.ProjFile == "" {
		return nil, fmt.Errorf("缺少llava模型文件配置")
	}

	return &Provider{
		config:    config,
		logger:    logger.WithTag("llava"),
		binary:    config.Binary,
		modelPath: resolve(config.CacheDir, config.ModelFile),
		projPath:  resolve(config.CacheDir, config.ProjFile),
	}, nil
}

// resolve 相对路径的模型文件位于缓存目录下
func resolve(dir, file string) string {
	if filepath.IsAbs(file) || dir == "" {
		return file
	}
	return filepath.Join(dir, file)
}

// Load 确认程序和模型文件都存在
func (p *Provider) Load(ctx context.Context) error {
	binary, err := exec.LookPath(p.binary)
	if err != nil {
		return fmt.Errorf("找不到llava程序 %s: %w", p.binary, err)
	}
	p.binary = binary

	for _, path := range []string{p.modelPath, p.projPath} {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("模型文件不可用: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("模型文件是目录: %s", path)
		}
	}

	p.logger.Info("llava模型就绪", map[string]interface{}{
		"binary": p.binary,
		"model":  p.modelPath,
		"mmproj": p.projPath,
	})
	return nil
}

// Answer 运行一次llava推理
func (p *Provider) Answer(ctx context.Context, imagePath string, question string, maxNewTokens int) ([]vqa.Candidate, error) {
	if _, _, err := vqa.ReadImage(imagePath); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-m", p.modelPath,
		"--mmproj", p.projPath,
		"--image", imagePath,
		"--temp", "0.1",
		"-n", strconv.Itoa(maxNewTokens),
		"-p", question,
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("llava运行失败: %w: %s", err, lastLine(stderr.String()))
	}

	return vqa.RankedByOrder([]string{cleanOutput(stdout.String())}), nil
}

// cleanOutput 去掉答案前的加载日志
func cleanOutput(output string) string {
	if idx := strings.LastIndex(output, outputAnchor); idx != -1 {
		output = output[idx+len(outputAnchor):]
	}
	return strings.TrimSpace(output)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "\n"); idx != -1 {
		return s[idx+1:]
	}
	return s
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}
