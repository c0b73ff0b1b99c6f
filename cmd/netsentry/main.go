package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"netsentry/internal/collector/app"
	"netsentry/internal/config"
)

func main() {
	var (
		configPath string
		listen     string
		dbDriver   string
		dbPath     string
		iface      string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，为空时在 . 和 /etc/netsentry 下查找 netsentry.yaml")
	flag.StringVar(&listen, "listen", "", "HTTP 监听地址，覆盖配置")
	flag.StringVar(&dbDriver, "db-driver", "", "数据库类型：sqlite 或 duckdb，覆盖配置")
	flag.StringVar(&dbPath, "db", "", "数据库文件路径，覆盖配置")
	flag.StringVar(&iface, "interface", "", "抓包网卡名，覆盖配置")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败：%v", err)
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if dbDriver != "" {
		cfg.DB.Driver = dbDriver
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if iface != "" {
		cfg.Capture.Interface = iface
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置非法：%v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Error("netsentry 退出", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	fmt.Println("netsentry 正常退出")
}
