package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var (
	ErrConfigLoad      = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect = "DATABASE_CONNECT_ERROR"
	ErrRedisConnect    = "REDIS_CONNECT_ERROR"
	ErrRPConnect       = "RPC_CONNECT_ERROR"
	ErrRPCCall         = "RPC_CALL_ERROR"
	ErrBlockFetch      = "BLOCK_FETCH_ERROR"
	ErrEventParse      = "EVENT_PARSE_ERROR"
	ErrEventStore      = "EVENT_STORE_ERROR"
	ErrCheckpoint      = "CHECKPOINT_ERROR"
	ErrMulticall       = "MULTICALL_ERROR"
	ErrPointsCredit    = "POINTS_CREDIT_ERROR"
	ErrLock            = "LOCK_ERROR"
	ErrJobEnqueue      = "JOB_ENQUEUE_ERROR"
	ErrInvalidChain    = "INVALID_CHAIN_ERROR"
	ErrInvalidScope    = "INVALID_SCOPE_ERROR"
)
