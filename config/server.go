package config

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"payment_recon/logger"
)

// StartServer 启动HTTP服务器并处理优雅关闭
// 收到 SIGINT/SIGTERM 后停止接收新请求，等待进行中的请求完成
func StartServer(app *fiber.App, port string) error {
	log := logger.WithComponent("server")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Listen(fmt.Sprintf(":%s", port))
	}()

	log.Info().Str("port", port).Msg("服务器已启动")

	select {
	case err := <-errChan:
		return fmt.Errorf("服务器启动失败: %w", err)
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到终止信号，开始优雅关闭...")
	}

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Error().Err(err).Msg("服务器关闭时发生错误")
		return err
	}

	log.Info().Msg("服务器已安全关闭")
	return nil
}
