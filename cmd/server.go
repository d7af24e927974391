package cmd

import (
	"AutoFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动AutoFM服务器",
	Long:  `启动AutoFM混音生成系统的HTTP服务器，提供混音任务API与状态推送`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
