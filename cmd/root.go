// Package cmd 命令行入口
//
// run    - 连接大厅并以固定帧率驱动客户端
// config - 打印解析后的配置
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd 不带子命令时的根命令
var rootCmd = &cobra.Command{
	Use:   "lobbylink",
	Short: "Realtime lobby presence client",
	Long: `lobbylink connects to a lobby server over WebSocket, keeps a directory
of remote players and streams the local player's position.`,
	SilenceUsage: true,
}

// Execute 由 main.main 调用一次
func Execute() {
	setupCLI()
	if errExecute := rootCmd.Execute(); errExecute != nil {
		os.Exit(1)
	}
}

func setupCLI() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./lobby.yml or $HOME/lobby.yml)")
}
