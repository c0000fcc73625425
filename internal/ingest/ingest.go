package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"kabarhub/internal/config"
	"kabarhub/internal/feed"
	"kabarhub/internal/normalizer"
)

// Fetcher 与 Store 以接口注入，测试可替换为假实现
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Entry, error)
}

type Store interface {
	SaveBatch(ctx context.Context, items []normalizer.Item) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// FeedResult 是单个源在一轮采集中的结果
type FeedResult struct {
	Feed    string `json:"feed,omitempty"`
	Success bool   `json:"success"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CleanupResult struct {
	Success      bool   `json:"success"`
	DeletedCount int64  `json:"deletedCount,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Result 是一轮完整采集的汇总，即触发方拿到的边界结构
type Result struct {
	Message             string        `json:"message"`
	Timestamp           string        `json:"timestamp"`
	FeedsProcessed      int           `json:"feedsProcessed"`
	TotalFeeds          int           `json:"totalFeeds"`
	TotalItemsProcessed int           `json:"totalItemsProcessed"`
	CleanupResult       CleanupResult `json:"cleanupResult"`
	FeedResults         []FeedResult  `json:"feedResults"`
}

// Runner 驱动一轮完整的采集：并行处理所有源，再做一次过期清理。
// 每次 Run 都是独立的完整尝试，没有中间状态可恢复；崩溃留下的半成品
// 会被下一轮的幂等 upsert 自然修复。
type Runner struct {
	feeds   []config.Feed
	fetcher Fetcher
	store   Store
	norm    *normalizer.Normalizer
	now     func() time.Time
}

func NewRunner(feeds []config.Feed, fetcher Fetcher, store Store, norm *normalizer.Normalizer, now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{
		feeds:   feeds,
		fetcher: fetcher,
		store:   store,
		norm:    norm,
		now:     now,
	}
}

// Run 执行一轮采集。单个源的失败只体现在对应的 FeedResult 里，
// 不会取消其余源，也不会让 Run 本身失败。
func (r *Runner) Run(ctx context.Context) Result {
	log.Println("start ingestion cycle...")

	// 整轮共用同一个 now，保证每个源批次内 created_at 完全一致
	cycleNow := r.now()
	results := make([]FeedResult, len(r.feeds))

	var wg sync.WaitGroup
	for i, f := range r.feeds {
		wg.Add(1)
		go func(i int, f config.Feed) {
			defer wg.Done()
			results[i] = r.processFeed(ctx, f, cycleNow)
		}(i, f)
	}
	wg.Wait()

	cleanup := r.sweep(ctx)

	succeeded := 0
	totalItems := 0
	for _, fr := range results {
		if fr.Success {
			succeeded++
			totalItems += fr.Count
		}
	}

	log.Printf("ingestion cycle done: %d/%d feeds, %d items", succeeded, len(r.feeds), totalItems)

	return Result{
		Message:             "RSS processing completed successfully",
		Timestamp:           r.now().UTC().Format(time.RFC3339),
		FeedsProcessed:      succeeded,
		TotalFeeds:          len(r.feeds),
		TotalItemsProcessed: totalItems,
		CleanupResult:       cleanup,
		FeedResults:         results,
	}
}

// processFeed 把一个源的 抓取→归一化→入库 当作一个单元，错误就地收敛
func (r *Runner) processFeed(ctx context.Context, f config.Feed, now time.Time) FeedResult {
	log.Printf("processing %s...", f.Name)

	entries, err := r.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		log.Printf("fetch %s error: %v", f.Name, err)
		return FeedResult{Feed: f.Name, Success: false, Error: err.Error()}
	}

	items := r.norm.Normalize(entries, f.Name, now)
	if len(items) == 0 {
		log.Printf("%s got 0 items", f.Name)
		return FeedResult{Feed: f.Name, Success: true}
	}

	if _, err := r.store.SaveBatch(ctx, items); err != nil {
		log.Printf("save %s batch error: %v", f.Name, err)
		return FeedResult{Feed: f.Name, Success: false, Error: err.Error()}
	}

	log.Printf("%s done, fetched=%d saved=%d items", f.Name, len(entries), len(items))
	return FeedResult{Feed: f.Name, Success: true, Count: len(items)}
}

func (r *Runner) sweep(ctx context.Context) CleanupResult {
	deleted, err := r.store.DeleteExpired(ctx, r.now())
	if err != nil {
		log.Printf("cleanup expired error: %v", err)
		return CleanupResult{Success: false, Error: err.Error()}
	}
	log.Printf("cleanup done, deleted=%d expired items", deleted)
	return CleanupResult{Success: true, DeletedCount: deleted}
}
