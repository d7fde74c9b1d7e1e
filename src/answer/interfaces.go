package answer

import (
	"context"

	"github.com/gin-gonic/gin"
)

// AnswerService 定义问答HTTP服务接口
type AnswerService interface {
	// 将问答服务的路由注册到 engine
	Start(ctx context.Context, engine *gin.Engine) error
}
