package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "loyalty-engine/pkg/errors"
	"loyalty-engine/pkg/logger"
)

const (
	Group       = "engine"
	delayedKey  = "jobs:delayed"
	maxAttempts = 5
	baseBackoff = 5 * time.Second
	maxBackoff  = 5 * time.Minute
)

// Handler 处理一条任务，返回值决定是否确认或重试
type Handler func(ctx context.Context, payload []byte, attempt int) Result

// Queue 基于redis stream的任务队列，消费组提供至少一次投递
// 所有下游处理必须幂等
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue 投递任务，delay大于0时先进入延迟集合
func (q *Queue) Enqueue(ctx context.Context, job string, payload interface{}, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.New(apperrors.ErrJobEnqueue, "序列化任务载荷失败", err)
	}
	return q.enqueue(ctx, job, body, 0, delay)
}

func (q *Queue) enqueue(ctx context.Context, job string, body []byte, attempt int, delay time.Duration) error {
	if delay > 0 {
		member, err := json.Marshal(delayedJob{Job: job, Body: string(body), Attempt: attempt})
		if err != nil {
			return apperrors.New(apperrors.ErrJobEnqueue, "序列化延迟任务失败", err)
		}
		score := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: string(member)}).Err(); err != nil {
			return apperrors.New(apperrors.ErrJobEnqueue, "写入延迟任务失败", err)
		}
		return nil
	}

	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(job),
		Values: map[string]interface{}{
			"payload": string(body),
			"attempt": attempt,
		},
	}).Err()
	if err != nil {
		return apperrors.New(apperrors.ErrJobEnqueue, "写入任务流失败", err)
	}
	return nil
}

type delayedJob struct {
	Job     string `json:"job"`
	Body    string `json:"body"`
	Attempt int    `json:"attempt"`
}

// PromoteDue 将到期的延迟任务搬到对应的任务流
func (q *Queue) PromoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		var job delayedJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			logger.Warn("延迟任务格式错误，丢弃: ", err)
			q.rdb.ZRem(ctx, delayedKey, member)
			continue
		}
		if err := q.enqueue(ctx, job.Job, []byte(job.Body), job.Attempt, 0); err != nil {
			return err
		}
		q.rdb.ZRem(ctx, delayedKey, member)
	}
	return nil
}

// Consume 以消费组方式循环消费指定任务流，阻塞直到上下文取消
// 消息总是先确认再按需重新投递，重复投递由下游幂等兜底
func (q *Queue) Consume(ctx context.Context, job, consumer string, handler Handler) {
	stream := streamKey(job)

	err := q.rdb.XGroupCreateMkStream(ctx, stream, Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		logger.Error("创建消费组失败: ", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    Group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    32,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("读取任务流失败: ", err)
			time.Sleep(time.Second)
			continue
		}

		for _, str := range streams {
			for _, msg := range str.Messages {
				q.handleMessage(ctx, job, stream, consumer, msg, handler)
			}
		}
	}
}

func (q *Queue) handleMessage(ctx context.Context, job, stream, consumer string, msg redis.XMessage, handler Handler) {
	payload, _ := msg.Values["payload"].(string)
	attempt := 0
	if raw, ok := msg.Values["attempt"].(string); ok {
		attempt, _ = strconv.Atoi(raw)
	}

	res := handler(ctx, []byte(payload), attempt)

	if err := q.rdb.XAck(ctx, stream, Group, msg.ID).Err(); err != nil {
		logger.Warn("确认消息失败: ", err)
	}

	if res.Success {
		return
	}

	if !res.ShouldRetry || attempt+1 >= maxAttempts {
		logger.WithFields(map[string]interface{}{
			"job":      job,
			"consumer": consumer,
			"attempt":  attempt,
			"error":    res.Err,
		}).Error("任务失败，不再重试")
		return
	}

	delay := res.RetryAfter
	if delay <= 0 {
		delay = backoff(attempt)
	}
	logger.WithFields(map[string]interface{}{
		"job":     job,
		"attempt": attempt,
		"delay":   delay,
		"error":   res.Err,
	}).Warn("任务失败，稍后重试")

	if err := q.enqueue(ctx, job, []byte(payload), attempt+1, delay); err != nil {
		logger.Error("重新投递任务失败: ", err)
	}
}

func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func streamKey(job string) string {
	return fmt.Sprintf("jobs:%s", job)
}
