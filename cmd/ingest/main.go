package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"kabarhub/internal/config"
	"kabarhub/internal/feed"
	"kabarhub/internal/ingest"
	"kabarhub/internal/normalizer"
	"kabarhub/internal/storage"
)

// 仅执行一轮采集并输出结果 JSON 的命令行入口：适合手动触发或外部调度
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}
	store.PreserveFirstSeen = cfg.PreserveFirstSeen

	client := feed.NewClient(cfg.FetchTimeout)
	norm := normalizer.New(cfg.Retention, cfg.ItemCap)
	runner := ingest.NewRunner(cfg.Feeds, client, store, norm, nil)

	res := runner.Run(context.Background())

	// 部分源失败不视为进程失败，失败明细在结果里
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("encode result failed: %v", err)
	}
}
