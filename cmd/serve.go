package cmd

import (
	"github.com/spf13/cobra"

	"payment_recon/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动HTTP服务",
	Long:  "连接数据库并执行迁移，然后启动HTTP服务，收到SIGINT/SIGTERM后优雅关闭。",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = settings.ServerPort
		}

		container, err := config.InitApp(settings)
		if err != nil {
			return err
		}
		defer container.Close()

		app := config.SetupApp(settings, container.Handler)
		return config.StartServer(app, port)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("port", "", "监听端口，默认取 SERVER_PORT")
}
