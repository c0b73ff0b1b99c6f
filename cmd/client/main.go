package main

import (
	"flag"
	"log"
	"os"

	"netsentry/internal/client/app"
)

func main() {
	var cfg app.Config
	flag.StringVar(&cfg.Server, "server", "http://127.0.0.1:5000", "NetSentry 服务地址")
	flag.StringVar(&cfg.View, "view", app.ViewObservations, "视图：observations / threats / logs")
	flag.StringVar(&cfg.IP, "ip", "", "只查询该远端 IP 的观测记录")
	flag.IntVar(&cfg.Limit, "limit", 0, "返回条数，0 表示使用服务端默认值")
	flag.Parse()

	if err := app.Run(cfg, os.Stdout); err != nil {
		log.Printf("client 失败：%v", err)
		os.Exit(1)
	}
}
