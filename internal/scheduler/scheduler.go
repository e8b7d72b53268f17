package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"loyalty-engine/pkg/logger"
)

// Scheduler 调度器：定时触发扫描与批量发放，并驱动任务队列消费
// 依赖方向单向：调度器调用各组件，组件从不回调调度器
type Scheduler struct {
	cron  *cron.Cron
	queue *Queue

	mu        sync.Mutex
	ticks     []tickEntry
	consumers []consumerEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type tickEntry struct {
	spec string
	name string
	fn   func(ctx context.Context) error
}

type consumerEntry struct {
	job     string
	name    string
	workers int
	handler Handler
}

func New(queue *Queue) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		queue: queue,
	}
}

// AddTick 注册一个定时任务
// 上一次执行未结束时跳过本次触发，同一任务不会并发
func (s *Scheduler) AddTick(spec, name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tickEntry{spec: spec, name: name, fn: fn})
}

// AddConsumer 注册一个任务流消费者，workers个协程并行消费
func (s *Scheduler) AddConsumer(job, name string, workers int, handler Handler) {
	if workers <= 0 {
		workers = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = append(s.consumers, consumerEntry{job: job, name: name, workers: workers, handler: handler})
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, entry := range s.ticks {
		entry := entry
		var running int32
		_, err := s.cron.AddFunc(entry.spec, func() {
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				logger.WithFields(map[string]interface{}{
					"tick": entry.name,
				}).Warn("上一次执行尚未完成，跳过本次触发")
				return
			}
			defer atomic.StoreInt32(&running, 0)

			if err := entry.fn(s.ctx); err != nil {
				logger.WithFields(map[string]interface{}{
					"tick":  entry.name,
					"error": err,
				}).Error("定时任务执行失败")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to register tick %s: %w", entry.name, err)
		}
	}

	// 延迟任务晋升
	if _, err := s.cron.AddFunc("* * * * * *", func() {
		if err := s.queue.PromoteDue(s.ctx); err != nil && s.ctx.Err() == nil {
			logger.Warn("晋升延迟任务失败: ", err)
		}
	}); err != nil {
		return err
	}

	for _, entry := range s.consumers {
		for i := 0; i < entry.workers; i++ {
			consumer := fmt.Sprintf("%s-%d", entry.name, i)
			handler := entry.handler
			job := entry.job
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.queue.Consume(s.ctx, job, consumer, handler)
			}()
		}
	}

	s.cron.Start()
	logger.Info("调度器已启动")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	logger.Info("调度器已停止")
}
