package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/image"
	"vqa-server-go/src/core/metrics"
	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrMalformedRequest 请求缺少图片或问题，属于调用方错误
	ErrMalformedRequest = errors.New("malformed request")
	// ErrInference 推理调用失败或没有返回答案
	ErrInference = errors.New("inference failed")
	// ErrTempFile 临时图片文件写入失败
	ErrTempFile = errors.New("temporary file failure")
)

// Options 问答服务参数
type Options struct {
	ProviderName   string        // 配置中的提供者名称，用于日志与指标
	ModelName      string        // 模型标识
	MaxNewTokens   int           // 答案最大token数
	TempDir        string        // 临时图片目录
	MaxConcurrent  int           // 同时进行的推理数量，0表示不限制
	RequestTimeout time.Duration // 单次推理超时，0表示不限制
}

// Service 视觉问答核心，持有启动时加载好的模型，可被多个请求并发使用
type Service struct {
	provider vqa.Provider
	opts     Options
	sem      *semaphore.Weighted
	logger   *utils.Logger
}

// NewService 用已加载的provider构造问答服务
func NewService(provider vqa.Provider, opts Options, logger *utils.Logger) *Service {
	s := &Service{
		provider: provider,
		opts:     opts,
		logger:   logger,
	}
	if opts.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return s
}

// LoadService 创建配置中选中的provider并同步加载模型，加载失败时返回错误，服务不应启动
func LoadService(ctx context.Context, config *configs.Config, logger *utils.Logger) (*Service, error) {
	name, vqaConfig := config.SelectedVQA()
	if name == "" {
		return nil, fmt.Errorf("请设置好VQA provider配置")
	}

	provider, err := vqa.Create(&vqaConfig, logger)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := loadWithRetry(ctx, provider, vqaConfig, logger); err != nil {
		return nil, fmt.Errorf("加载模型 %s 失败: %w", vqaConfig.ModelName, err)
	}
	logger.Info("VQA模型加载成功", map[string]interface{}{
		"provider":       name,
		"model":          vqaConfig.ModelName,
		"max_new_tokens": vqaConfig.MaxNewTokens,
		"elapsed":        time.Since(start).String(),
	})

	return NewService(provider, Options{
		ProviderName:   name,
		ModelName:      vqaConfig.ModelName,
		MaxNewTokens:   vqaConfig.MaxNewTokens,
		TempDir:        vqaConfig.TempDir,
		MaxConcurrent:  config.Server.MaxConcurrent,
		RequestTimeout: config.Server.RequestTimeout,
	}, logger), nil
}

// loadWithRetry 带重试的模型加载，每次尝试单独计算超时
func loadWithRetry(ctx context.Context, provider vqa.Provider, vqaConfig configs.VQAConfig, logger *utils.Logger) error {
	attempts := max(vqaConfig.LoadAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logger.Info("模型加载重试 %d/%d", attempt+1, attempts)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(vqaConfig.RetryDelay):
			}
		}

		loadCtx, cancel := context.WithTimeout(ctx, vqaConfig.LoadTimeout)
		err := provider.Load(loadCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		logger.Warn("模型加载尝试 %d/%d 失败: %v", attempt+1, attempts, err)
	}

	if attempts > 1 {
		return fmt.Errorf("重试 %d 次后仍然失败: %w", attempts, lastErr)
	}
	return lastErr
}

// ProviderName 返回提供者名称
func (s *Service) ProviderName() string {
	return s.opts.ProviderName
}

// ModelName 返回模型标识
func (s *Service) ModelName() string {
	return s.opts.ModelName
}

// AnswerQuestion 将图片写入独占的临时文件，调用模型并返回置信度最高的答案
// 临时文件在任何返回路径上都会被删除
func (s *Service) AnswerQuestion(ctx context.Context, imageBytes []byte, question string) (string, error) {
	question = strings.TrimSpace(question)
	if len(imageBytes) == 0 {
		return "", fmt.Errorf("%w: 缺少图片", ErrMalformedRequest)
	}
	if question == "" {
		return "", fmt.Errorf("%w: 缺少问题", ErrMalformedRequest)
	}

	tmp, err := image.NewTempImage(s.opts.TempDir, imageBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTempFile, err)
	}
	defer func() {
		if err := tmp.Release(); err != nil {
			metrics.TempFileCleanupFailures.Inc()
			s.logger.Error("临时文件删除失败", map[string]interface{}{
				"path":  tmp.Path(),
				"error": err.Error(),
			})
		}
	}()

	candidates, err := s.infer(ctx, tmp.Path(), question)
	if err != nil {
		return "", err
	}

	vqa.SortCandidates(candidates)
	if len(candidates) == 0 || strings.TrimSpace(candidates[0].Answer) == "" {
		return "", fmt.Errorf("%w: 模型没有返回答案", ErrInference)
	}

	s.logger.Debug("VQA推理完成", map[string]interface{}{
		"question":   question,
		"candidates": candidates,
	})
	return strings.TrimSpace(candidates[0].Answer), nil
}

// infer 调用provider，排队等待受ctx控制，推理开始后不随客户端断开而中断
func (s *Service) infer(ctx context.Context, imagePath, question string) (candidates []vqa.Candidate, err error) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: 等待推理资源时请求已取消: %w", ErrInference, err)
		}
		defer s.sem.Release(1)
	}

	inferCtx := context.WithoutCancel(ctx)
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		inferCtx, cancel = context.WithTimeout(inferCtx, s.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: provider panicked: %v", ErrInference, r)
		}
		metrics.InferenceLatency.WithLabelValues(s.opts.ProviderName).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.InferenceFailures.WithLabelValues(s.opts.ProviderName).Inc()
		}
	}()

	candidates, err = s.provider.Answer(inferCtx, imagePath, question, s.opts.MaxNewTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return candidates, nil
}

// Close 清理provider资源
func (s *Service) Close() error {
	return s.provider.Cleanup()
}
