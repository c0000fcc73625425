package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kabarhub/internal/ingest"
	"kabarhub/internal/storage"
)

// NewsLister 是读侧依赖：查询未过期条目
type NewsLister interface {
	ListActive(ctx context.Context, sources []string, limit int, now time.Time) ([]storage.Item, error)
}

// CycleRunner 是手动触发依赖：执行一轮完整采集
type CycleRunner interface {
	Run(ctx context.Context) ingest.Result
}

type Server struct {
	store  NewsLister
	runner CycleRunner
}

func NewServer(store NewsLister, runner CycleRunner) *Server {
	return &Server{store: store, runner: runner}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.listNews)
		v1.POST("/ingest", s.triggerIngest)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listNews(c *gin.Context) {
	sources := c.QueryArray("source")

	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.store.ListActive(c.Request.Context(), sources, limit, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

// triggerIngest 同步执行一轮采集并原样转发结果。源级/清理级失败已在
// Runner 内收敛为结果字段，仍返回 200；只有逃逸出隔离边界的 panic
// 才映射为 500 错误信封。
func (s *Server) triggerIngest(c *gin.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "RSS processing failed",
				"details":   fmt.Sprint(rec),
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}()

	res := s.runner.Run(c.Request.Context())
	c.JSON(http.StatusOK, res)
}
