package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// 采集周期的固定参数；测试时可在 Config 上覆盖
const (
	DefaultRetention    = 3 * 24 * time.Hour
	DefaultItemCap      = 20
	DefaultFetchTimeout = 10 * time.Second
)

// Feed 描述一个待采集的 RSS 源
type Feed struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Category string `toml:"category"`
}

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	CronSpec string

	BasicAuthUser string
	BasicAuthPass string

	// PreserveFirstSeen 为 true 时，upsert 冲突不重置 created_at/expires_at，
	// 即文章的保留时钟以首次入库为准
	PreserveFirstSeen bool

	Feeds []Feed

	Retention    time.Duration
	ItemCap      int
	FetchTimeout time.Duration
}

// 默认源与线上部署保持一致：CNN 与 Antara，各取最新 20 条
func defaultFeeds() []Feed {
	return []Feed{
		{Name: "CNN Indonesia", URL: "https://www.cnnindonesia.com/nasional/rss", Category: "nasional"},
		{Name: "Antara News", URL: "https://www.antaranews.com/rss/terkini.xml", Category: "nasional"},
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		AppPort:           getEnv("APP_PORT", "9000"),
		PostgresDSN:       getEnv("POSTGRES_DSN", "host=localhost user=kabarhub password=kabarhub dbname=kabarhub port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		CronSpec:          getEnv("CRON_SPEC", "0 */12 * * *"),
		BasicAuthUser:     getEnv("APP_BASIC_USER", ""),
		BasicAuthPass:     getEnv("APP_BASIC_PASS", ""),
		PreserveFirstSeen: getEnv("PRESERVE_FIRST_SEEN", "") != "",
		Retention:         DefaultRetention,
		ItemCap:           DefaultItemCap,
		FetchTimeout:      DefaultFetchTimeout,
	}

	feeds, err := loadFeeds(getEnv("FEEDS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Feeds = feeds

	log.Printf("config loaded: port=%s cron=%s feeds=%d", cfg.AppPort, cfg.CronSpec, len(cfg.Feeds))
	return cfg, nil
}

// loadFeeds 读取 TOML 源列表；未配置文件时回退到内置默认源
func loadFeeds(path string) ([]Feed, error) {
	if path == "" {
		return defaultFeeds(), nil
	}

	var doc struct {
		Feeds []Feed `toml:"feeds"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("decode feeds file %s: %w", path, err)
	}
	if len(doc.Feeds) == 0 {
		return nil, fmt.Errorf("feeds file %s contains no feeds", path)
	}
	for _, f := range doc.Feeds {
		if f.Name == "" || f.URL == "" {
			return nil, fmt.Errorf("feeds file %s: every feed needs name and url", path)
		}
	}
	return doc.Feeds, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
