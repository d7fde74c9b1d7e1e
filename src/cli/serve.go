package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vqa-server-go/src/answer"
	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/image"
	"vqa-server-go/src/core/utils"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	// 启动时清理的残留临时图片的最短存在时间
	staleImageAge   = time.Hour
	shutdownTimeout = 10 * time.Second
)

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "监听地址（覆盖配置）")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "监听端口（覆盖配置）")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "加载模型并启动HTTP服务",
	Long:  `加载配置中选中的VQA模型，成功后在 POST /answer_question 上提供问答接口。模型加载失败时进程退出。`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	config, logger, err := loadConfigAndLogger(func(c *configs.Config) {
		if serveHost != "" {
			c.Server.IP = serveHost
		}
		if servePort > 0 {
			c.Server.Port = servePort
		}
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	_, vqaConfig := config.SelectedVQA()
	if removed, err := image.CleanupStale(vqaConfig.TempDir, staleImageAge); err != nil {
		logger.Warn("清理残留临时图片失败", map[string]interface{}{"dir": vqaConfig.TempDir, "error": err.Error()})
	} else if removed > 0 {
		logger.Info(fmt.Sprintf("已清理 %d 个残留临时图片", removed))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 模型加载失败视为致命错误，服务不对外监听
	service, err := answer.LoadService(ctx, config, logger)
	if err != nil {
		logger.Error("VQA模型加载失败", map[string]interface{}{"error": err.Error()})
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	answerService, err := startHTTPServer(config, service, logger, g, groupCtx)
	if err != nil {
		return err
	}
	defer answerService.Cleanup()

	return gracefulShutdown(cancel, logger, g, groupCtx)
}

func startHTTPServer(config *configs.Config, service *answer.Service, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*answer.DefaultAnswerService, error) {
	engine := answer.NewEngine(config, logger)

	answerService := answer.NewDefaultAnswerService(config, service, logger)
	if err := answerService.Start(groupCtx, engine); err != nil {
		logger.Error("问答服务启动失败", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:              config.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://%s", config.Addr()))

		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败", map[string]interface{}{"error": err.Error()})
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP 服务启动失败", map[string]interface{}{"error": err.Error()})
			return err
		}
		return nil
	})

	return answerService, nil
}

// gracefulShutdown 等待系统信号或服务异常退出，然后关闭所有服务
func gracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))
	case <-groupCtx.Done():
		logger.Warn("服务异常退出，开始关闭")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误", map[string]interface{}{"error": err.Error()})
			return err
		}
		logger.Info("所有服务已优雅关闭")
		return nil
	case <-time.After(shutdownTimeout + 5*time.Second):
		return fmt.Errorf("服务关闭超时")
	}
}
