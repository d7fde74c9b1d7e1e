package answer

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-Id"
)

// NewEngine 创建Gin引擎并挂载公共中间件，所有错误都以JSON返回
func NewEngine(config *configs.Config, logger *utils.Logger) *gin.Engine {
	if strings.ToLower(config.Log.LogLevel) == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	httpLogger := logger.WithTag("http")
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(
		requestID(),
		requestLogger(httpLogger),
		gin.CustomRecovery(recoveryHandler(httpLogger)),
		cors(),
	)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Not Found"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Detail: "Method Not Allowed"})
	})

	if config.Metrics.Enabled {
		router.GET(config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	return router
}

// requestID 沿用客户端的X-Request-Id，没有则生成一个
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger 记录每个请求的状态与耗时
func requestLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path), map[string]interface{}{
			"request_id": c.GetString(requestIDKey),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// recoveryHandler 单个请求panic不影响进程，返回JSON格式的500
func recoveryHandler(logger *utils.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		logger.Error("请求处理panic", map[string]interface{}{
			"request_id": c.GetString(requestIDKey),
			"panic":      fmt.Sprint(recovered),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Detail: internalErrorDetail})
	}
}

// cors 允许所有来源、方法和请求头，预检请求直接返回
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			// 携带凭证时不能使用*，回显请求来源
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		} else {
			c.Header("Access-Control-Allow-Origin", "*")
		}

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Header("Access-Control-Allow-Methods", "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT")
			if headers := c.GetHeader("Access-Control-Request-Headers"); headers != "" {
				c.Header("Access-Control-Allow-Headers", headers)
			}
			c.Header("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
