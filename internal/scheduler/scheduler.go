package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"kabarhub/internal/ingest"
)

type Runner interface {
	Run(ctx context.Context) ingest.Result
}

// Scheduler 按 cron 表达式周期性触发采集。触发机制本身不关心
// 结果内容，汇总都在 Runner 的返回值和日志里。
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
}

func New(spec string, runner Runner) (*Scheduler, error) {
	c := cron.New()

	s := &Scheduler{cron: c, runner: runner}
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// 延迟执行首轮采集，避免与服务启动期的首批请求争抢资源
	const startupDelay = 15 * time.Second
	time.AfterFunc(startupDelay, func() {
		go s.runOnce()
	})
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

func (s *Scheduler) runOnce() {
	res := s.runner.Run(context.Background())
	if res.FeedsProcessed < res.TotalFeeds {
		log.Printf("scheduled cycle finished with failures: %d/%d feeds", res.FeedsProcessed, res.TotalFeeds)
	}
}
