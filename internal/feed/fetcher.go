package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// 部分站点会拒绝空 UA 的抓取请求
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Entry 是单条源条目解析后的原始结构，字段缺失留空，由 normalizer 统一兜底
type Entry struct {
	Title       string
	Link        string
	Description string
	Content     string
	Published   *time.Time
	ImageURL    string
	GUID        string
	Author      string
	Categories  []string
}

// Fetcher 抽象一次「抓取并解析一个源」的能力
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]Entry, error)
}

// Client 基于 gofeed 实现 Fetcher，带固定超时与 UA
type Client struct {
	parser *gofeed.Parser
}

func NewClient(timeout time.Duration) *Client {
	p := gofeed.NewParser()
	p.UserAgent = userAgent
	p.Client = &http.Client{Timeout: timeout}
	return &Client{parser: p}
}

// Fetch 一次抓取对应一份有限的条目序列，顺序与源给出的一致。
// 网络错误、超时与文档解析失败统一视为该源整体失败。
func (c *Client) Fetch(ctx context.Context, url string) ([]Entry, error) {
	parsed, err := c.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, fromItem(item))
	}
	return entries, nil
}

func fromItem(item *gofeed.Item) Entry {
	e := Entry{
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Content:     item.Content,
		ImageURL:    imageURL(item),
		GUID:        item.GUID,
		Categories:  item.Categories,
	}

	// pubDate 缺失时退回 updated
	if item.PublishedParsed != nil {
		e.Published = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		e.Published = item.UpdatedParsed
	}

	if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = item.Authors[0].Name
	}

	return e
}

// imageURL 尽力提取配图：优先 enclosure，其次 media:content 扩展
func imageURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, content := range media["content"] {
			if url := content.Attrs["url"]; url != "" {
				return url
			}
		}
	}
	return ""
}
