package main

import "lobbylink/cmd"

// lobbylink 入口：解析命令行并执行子命令
func main() {
	cmd.Execute()
}
