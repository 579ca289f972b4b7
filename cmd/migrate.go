package cmd

import (
	"github.com/spf13/cobra"

	"payment_recon/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "执行数据库迁移",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Init(settings.Database())
		if err != nil {
			return err
		}
		return database.Migrate(db)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "写入初始销售组与用户",
	Long: `从YAML文件写入初始销售组与用户，已存在的组名与邮箱会跳过，可重复执行。

文件格式:
  teams:
    - name: Team A
  users:
    - email: admin@example.com
      password: change-me-now
      role: ADMIN
    - email: seller@example.com
      password: change-me-now
      role: SALE_STAFF
      team: Team A`,
	Example: `  payment-recon seed --file seeds.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")

		data, err := database.LoadSeedFile(path)
		if err != nil {
			return err
		}
		db, err := database.Init(settings.Database())
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		_, err = database.Seed(db, data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("file", "seeds.yaml", "初始化数据文件")
}
