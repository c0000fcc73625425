package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kabarhub/internal/normalizer"
)

// Item 是持久化的新闻条目；link 为幂等键
type Item struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:512" json:"title"`
	Link        string    `gorm:"size:1024;uniqueIndex" json:"link"`
	Description string    `gorm:"size:2000" json:"description"`
	PubDate     time.Time `gorm:"index" json:"pubDate"`
	Source      string    `gorm:"size:128;index" json:"source"`
	ImageURL    *string   `gorm:"size:1024" json:"imageUrl"`

	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt 之后的行视为过期，由清理任务删除，读侧也会过滤
	ExpiresAt time.Time         `gorm:"index" json:"expiresAt"`
	ExtraData datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	// PreserveFirstSeen 为 true 时冲突行保留首次入库的 created_at/expires_at，
	// 否则每轮采集都会刷新保留时钟（线上观察到的行为）
	PreserveFirstSeen bool
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}

	return &Store{DB: db, Redis: rdb}, nil
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 数截断，防止上游返回异常长文本导致超过字段长度入库失败
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// SaveBatch 以 link 为冲突键批量入库：已存在的行被最新一次抓取整体覆盖。
// 返回受影响的行数。
func (s *Store) SaveBatch(ctx context.Context, items []normalizer.Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	rows := make([]Item, 0, len(items))
	for _, it := range items {
		row := Item{
			Title:       toValidUTF8(it.Title),
			Link:        it.Link,
			Description: truncateRunesDB(toValidUTF8(it.Description), 2000),
			PubDate:     it.PubDate,
			Source:      it.Source,
			CreatedAt:   it.CreatedAt,
			ExpiresAt:   it.ExpiresAt,
			ExtraData:   datatypes.JSONMap(it.Extra),
		}
		if it.ImageURL != "" {
			url := it.ImageURL
			row.ImageURL = &url
		}
		rows = append(rows, row)
	}

	cols := []string{"title", "description", "pub_date", "source", "image_url", "extra_data"}
	if !s.PreserveFirstSeen {
		cols = append(cols, "created_at", "expires_at")
	}

	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "link"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert batch: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired 删除所有 expires_at 严格早于 now 的行，返回删除条数
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at < ?", now).Delete(&Item{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListActive 返回未过期条目，按发布时间倒序；sources 为空表示不过滤来源。
// 结果用 Redis 做短 TTL 缓存，缓存命中后仍按 now 复查过期，保证不吐出过期行。
func (s *Store) ListActive(ctx context.Context, sources []string, limit int, now time.Time) ([]Item, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}

	cacheKey := fmt.Sprintf("news:active:%s:%d", strings.Join(sources, ","), limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Item
			if err := json.Unmarshal(bs, &cached); err == nil {
				return dropExpired(cached, now), nil
			}
		}
	}

	var list []Item
	db := s.DB.WithContext(ctx).Model(&Item{}).Where("expires_at > ?", now)
	if len(sources) > 0 {
		db = db.Where("source IN ?", sources)
	}
	if err := db.Order("pub_date DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}

	const listCacheTTL = 5 * time.Minute
	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, listCacheTTL).Err()
		}
	}

	return list, nil
}

func dropExpired(items []Item, now time.Time) []Item {
	out := items[:0]
	for _, it := range items {
		if it.ExpiresAt.After(now) {
			out = append(out, it)
		}
	}
	return out
}
