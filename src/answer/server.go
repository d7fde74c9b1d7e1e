package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/metrics"
	"vqa-server-go/src/core/utils"

	"github.com/gin-gonic/gin"
)

const (
	// 内存中保留的multipart数据上限，超出部分由标准库写入磁盘
	multipartMemory = 8 * 1024 * 1024

	internalErrorDetail = "Internal server error"
)

var _ AnswerService = (*DefaultAnswerService)(nil)

type DefaultAnswerService struct {
	logger  *utils.Logger
	config  *configs.Config
	service *Service
}

// NewDefaultAnswerService 构造函数，service必须已完成模型加载
func NewDefaultAnswerService(config *configs.Config, service *Service, logger *utils.Logger) *DefaultAnswerService {
	return &DefaultAnswerService{
		logger:  logger.WithTag("answer"),
		config:  config,
		service: service,
	}
}

// Start 实现 AnswerService 接口，注册问答相关路由
func (s *DefaultAnswerService) Start(ctx context.Context, engine *gin.Engine) error {
	engine.POST("/answer_question", s.countRequests, s.handleAnswerQuestion)
	engine.GET("/health", s.handleHealth)

	s.logger.Info("问答HTTP服务路由注册完成")
	return nil
}

// handleHealth 模型加载完成后服务才会启动监听，所以能访问到即为就绪
func (s *DefaultAnswerService) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Provider: s.service.ProviderName(),
		Model:    s.service.ModelName(),
	})
}

// countRequests 记录问答请求数与并发数
// 后续处理panic时c.Next不会返回，按恢复中间件写出的500计数
func (s *DefaultAnswerService) countRequests(c *gin.Context) {
	metrics.InflightRequests.Inc()
	status := http.StatusInternalServerError
	defer func() {
		metrics.InflightRequests.Dec()
		metrics.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
	}()
	c.Next()
	status = c.Writer.Status()
}

// handleAnswerQuestion 处理POST请求（图片问答）
func (s *DefaultAnswerService) handleAnswerQuestion(c *gin.Context) {
	requestID := c.GetString(requestIDKey)

	imageBytes, question, status, err := s.parseMultipartRequest(c)
	if err != nil {
		s.logger.Warn("问答请求解析失败", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		s.respondError(c, status, err.Error())
		return
	}

	s.logger.Debug("收到问答请求", map[string]interface{}{
		"request_id": requestID,
		"question":   question,
		"image_size": len(imageBytes),
	})

	answer, err := s.service.AnswerQuestion(c.Request.Context(), imageBytes, question)
	if err != nil {
		if errors.Is(err, ErrMalformedRequest) {
			s.respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("问答请求处理失败", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		s.respondError(c, http.StatusInternalServerError, internalErrorDetail)
		return
	}

	s.logger.Info("问答结果", map[string]interface{}{
		"request_id": requestID,
		"answer":     answer,
	})
	c.JSON(http.StatusOK, AnswerResponse{Answer: answer})
}

// parseMultipartRequest 解析multipart表单，返回图片、问题以及出错时应返回的状态码
func (s *DefaultAnswerService) parseMultipartRequest(c *gin.Context) ([]byte, string, int, error) {
	if limit := s.config.Server.MaxUploadSize; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, "", http.StatusRequestEntityTooLarge,
				fmt.Errorf("请求体超过限制，最大允许%d字节", maxBytesErr.Limit)
		}
		return nil, "", http.StatusBadRequest, fmt.Errorf("解析multipart表单失败: %v", err)
	}

	questions := c.Request.MultipartForm.Value["question"]
	if len(questions) == 0 || questions[0] == "" {
		return nil, "", http.StatusBadRequest, fmt.Errorf("缺少question字段")
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		return nil, "", http.StatusBadRequest, fmt.Errorf("缺少image文件: %v", err)
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(file)
	if err != nil {
		return nil, "", http.StatusBadRequest, fmt.Errorf("读取图片数据失败: %v", err)
	}
	if len(imageBytes) == 0 {
		return nil, "", http.StatusBadRequest, fmt.Errorf("图片数据为空")
	}

	return imageBytes, questions[0], 0, nil
}

// respondError 返回错误响应
func (s *DefaultAnswerService) respondError(c *gin.Context, statusCode int, detail string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{Detail: detail})
}

// Cleanup 清理资源
func (s *DefaultAnswerService) Cleanup() error {
	if err := s.service.Close(); err != nil {
		s.logger.Warn("清理VQA provider失败: %v", err)
		return err
	}
	s.logger.Info("问答服务清理完成")
	return nil
}
