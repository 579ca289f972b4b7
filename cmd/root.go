// Package cmd 命令行入口
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payment_recon/config"
	"payment_recon/logger"
)

var version = "1.0.0"

var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:   "payment-recon",
	Short: "付款对账服务",
	Long: `付款对账服务：导入银行流水，按销售组分配付款，录入发票并提交对账。

子命令:
  serve    启动HTTP服务
  migrate  执行数据库迁移
  seed     写入初始销售组与用户`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadEnvFile()
		settings = config.Load()
		if err := logger.Setup(settings.Log); err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute 执行命令，失败时以非零状态退出
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("命令执行失败")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
