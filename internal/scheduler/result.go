package scheduler

import "time"

// Result 任务执行结果，由调度器解释并决定是否重试
type Result struct {
	Success     bool
	ShouldRetry bool
	RetryAfter  time.Duration
	Err         error
}

func Done() Result {
	return Result{Success: true}
}

// Retry 可重试失败，after为0时由调度器按退避策略决定间隔
func Retry(after time.Duration, err error) Result {
	return Result{ShouldRetry: true, RetryAfter: after, Err: err}
}

// Fail 不可重试失败，配置或编程错误
func Fail(err error) Result {
	return Result{Err: err}
}
