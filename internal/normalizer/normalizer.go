package normalizer

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"kabarhub/internal/feed"
)

// Item 是写入存储层前的统一结构
type Item struct {
	Title       string
	Link        string
	Description string
	PubDate     time.Time
	Source      string
	ImageURL    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Extra       map[string]any
}

// 纯文本摘要用：剥掉一切 HTML 标签
var stripPolicy = bluemonday.StrictPolicy()

// Normalizer 把源条目映射为入库结构；无副作用，时间由调用方注入
type Normalizer struct {
	retention time.Duration
	cap       int
}

func New(retention time.Duration, itemCap int) *Normalizer {
	return &Normalizer{retention: retention, cap: itemCap}
}

// Normalize 最多取前 cap 条；同一批条目共用同一个 now，保证
// created_at/expires_at 在一轮内完全一致
func (n *Normalizer) Normalize(entries []feed.Entry, source string, now time.Time) []Item {
	if len(entries) > n.cap {
		entries = entries[:n.cap]
	}

	out := make([]Item, 0, len(entries))
	for _, e := range entries {
		pubDate := now
		if e.Published != nil {
			pubDate = *e.Published
		}

		out = append(out, Item{
			Title:       e.Title,
			Link:        e.Link,
			Description: description(e),
			PubDate:     pubDate,
			Source:      source,
			ImageURL:    e.ImageURL,
			CreatedAt:   now,
			ExpiresAt:   now.Add(n.retention),
			Extra:       extra(e),
		})
	}
	return out
}

// description 兜底链：纯文本摘要 → 全文内容 → 原始 description
func description(e feed.Entry) string {
	if snippet := strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(e.Description))); snippet != "" {
		return snippet
	}
	if e.Content != "" {
		return e.Content
	}
	return e.Description
}

func extra(e feed.Entry) map[string]any {
	m := map[string]any{}
	if e.GUID != "" {
		m["guid"] = e.GUID
	}
	if e.Author != "" {
		m["author"] = e.Author
	}
	if len(e.Categories) > 0 {
		m["categories"] = strings.Join(e.Categories, ",")
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
