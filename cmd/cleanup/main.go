package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/database"
)

var cfgFile string

// openDB 测试中替换为内存库
var openDB = func() (*gorm.DB, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return database.Open(&cfg.Database)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cleanup",
		Short: "AI 调用日志维护工具",
		Long: `清理与统计 ai_call_logs。

服务进程内的定时任务每天 02:00 删除 30 天前的日志，03:00 删除 7 天前的失败日志；
本工具用于手动执行同样的清理或查看日志分布。`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $CONFIG_PATH or ./config.yaml)")

	root.AddCommand(newLogsCmd(), newStatsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
