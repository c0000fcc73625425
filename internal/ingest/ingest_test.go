package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"kabarhub/internal/config"
	"kabarhub/internal/feed"
	"kabarhub/internal/normalizer"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	entries map[string][]feed.Entry
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]feed.Entry, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.entries[url], nil
}

type fakeStore struct {
	mu       sync.Mutex
	batches  [][]normalizer.Item
	saveErr  map[string]error // keyed by source of first item
	sweepErr error
	deleted  int64
	sweeps   int
}

func (s *fakeStore) SaveBatch(_ context.Context, items []normalizer.Item) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[items[0].Source]; err != nil {
		return 0, err
	}
	s.batches = append(s.batches, items)
	return int64(len(items)), nil
}

func (s *fakeStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	return s.deleted, nil
}

func entriesN(n int) []feed.Entry {
	out := make([]feed.Entry, n)
	for i := range out {
		out[i] = feed.Entry{
			Title: fmt.Sprintf("title %d", i),
			Link:  fmt.Sprintf("https://example.com/%d", i),
		}
	}
	return out
}

func newRunner(feeds []config.Feed, f Fetcher, s Store) *Runner {
	return NewRunner(feeds, f, s, normalizer.New(72*time.Hour, 20), func() time.Time { return testNow })
}

func TestRunIsolatesFailingFeed(t *testing.T) {
	feeds := []config.Feed{
		{Name: "A", URL: "https://a.example/rss"},
		{Name: "B", URL: "https://b.example/rss"},
	}
	fetcher := &fakeFetcher{
		entries: map[string][]feed.Entry{"https://a.example/rss": entriesN(25)},
		errs:    map[string]error{"https://b.example/rss": errors.New("timeout")},
	}
	store := &fakeStore{deleted: 3}

	res := newRunner(feeds, fetcher, store).Run(context.Background())

	if res.TotalFeeds != 2 || res.FeedsProcessed != 1 {
		t.Fatalf("feedsProcessed/totalFeeds = %d/%d, want 1/2", res.FeedsProcessed, res.TotalFeeds)
	}
	// 25 条原始条目，受 cap=20 限制
	if res.TotalItemsProcessed != 20 {
		t.Fatalf("totalItemsProcessed = %d, want 20", res.TotalItemsProcessed)
	}

	if len(res.FeedResults) != 2 {
		t.Fatalf("feedResults = %d, want 2", len(res.FeedResults))
	}
	a, b := res.FeedResults[0], res.FeedResults[1]
	if !a.Success || a.Count != 20 {
		t.Fatalf("feed A result = %+v, want success with count 20", a)
	}
	if b.Success || b.Error == "" {
		t.Fatalf("feed B result = %+v, want failure with error detail", b)
	}

	// 失败的源不阻塞清理
	if store.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", store.sweeps)
	}
	if !res.CleanupResult.Success || res.CleanupResult.DeletedCount != 3 {
		t.Fatalf("cleanupResult = %+v", res.CleanupResult)
	}
}

func TestRunIsolatesWriteFailure(t *testing.T) {
	feeds := []config.Feed{
		{Name: "A", URL: "https://a.example/rss"},
		{Name: "B", URL: "https://b.example/rss"},
	}
	fetcher := &fakeFetcher{entries: map[string][]feed.Entry{
		"https://a.example/rss": entriesN(2),
		"https://b.example/rss": entriesN(2),
	}}
	store := &fakeStore{saveErr: map[string]error{"A": errors.New("constraint violation")}}

	res := newRunner(feeds, fetcher, store).Run(context.Background())

	if res.FeedsProcessed != 1 {
		t.Fatalf("feedsProcessed = %d, want 1", res.FeedsProcessed)
	}
	if res.FeedResults[0].Success {
		t.Fatalf("feed A should report the write failure")
	}
	if !res.FeedResults[1].Success || res.FeedResults[1].Count != 2 {
		t.Fatalf("feed B result = %+v", res.FeedResults[1])
	}
	if store.sweeps != 1 {
		t.Fatalf("write failure must not block the sweep")
	}
}

func TestRunSweepFailureIsNonFatal(t *testing.T) {
	feeds := []config.Feed{{Name: "A", URL: "https://a.example/rss"}}
	fetcher := &fakeFetcher{entries: map[string][]feed.Entry{"https://a.example/rss": entriesN(1)}}
	store := &fakeStore{sweepErr: errors.New("store unavailable")}

	res := newRunner(feeds, fetcher, store).Run(context.Background())

	if res.CleanupResult.Success || res.CleanupResult.Error == "" {
		t.Fatalf("cleanupResult = %+v, want failure with error", res.CleanupResult)
	}
	// 清理失败不影响整体结果
	if res.FeedsProcessed != 1 || res.TotalItemsProcessed != 1 {
		t.Fatalf("feed results should be unaffected: %+v", res)
	}
}

func TestRunEmptyFeedIsSuccessWithZeroCount(t *testing.T) {
	feeds := []config.Feed{{Name: "A", URL: "https://a.example/rss"}}
	fetcher := &fakeFetcher{entries: map[string][]feed.Entry{}}
	store := &fakeStore{}

	res := newRunner(feeds, fetcher, store).Run(context.Background())

	fr := res.FeedResults[0]
	if !fr.Success || fr.Count != 0 {
		t.Fatalf("empty feed result = %+v, want success with count 0", fr)
	}
	// 空批次不应触发写入
	if len(store.batches) != 0 {
		t.Fatalf("store received %d batches, want 0", len(store.batches))
	}
}

func TestRunUsesInjectedClockForWholeCycle(t *testing.T) {
	feeds := []config.Feed{
		{Name: "A", URL: "https://a.example/rss"},
		{Name: "B", URL: "https://b.example/rss"},
	}
	fetcher := &fakeFetcher{entries: map[string][]feed.Entry{
		"https://a.example/rss": entriesN(2),
		"https://b.example/rss": entriesN(2),
	}}
	store := &fakeStore{}

	res := newRunner(feeds, fetcher, store).Run(context.Background())

	if res.Timestamp != testNow.Format(time.RFC3339) {
		t.Fatalf("timestamp = %q, want RFC3339 of injected clock", res.Timestamp)
	}
	for _, b := range store.batches {
		for _, it := range b {
			if !it.CreatedAt.Equal(testNow) {
				t.Fatalf("created_at = %v, want the cycle's shared now", it.CreatedAt)
			}
			if !it.ExpiresAt.Equal(testNow.Add(72 * time.Hour)) {
				t.Fatalf("expires_at = %v", it.ExpiresAt)
			}
		}
	}
}
