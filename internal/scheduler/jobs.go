package scheduler

const (
	JobCreditPurchase = "credit_purchase"
	JobCreditStake    = "credit_stake"
	JobRegister       = "register"
	JobStakingSweep   = "staking_sweep"
)

// CreditJob 入账任务载荷
// 携带发放引擎独立推导奖励所需的全部字段，无需回读扫描批次
type CreditJob struct {
	ChainID      uint64 `json:"chain_id"`
	ScopeKey     string `json:"scope_key"`
	UserAddress  string `json:"user_address"`
	TxnHash      string `json:"txn_hash"`
	TokenAddress string `json:"token_address"`
	RawAmount    string `json:"raw_amount"`
	EventType    string `json:"event_type"`
	Referrer     string `json:"referrer,omitempty"`
}

// SweepJob 单链单日的质押奖励批量发放任务载荷
type SweepJob struct {
	ChainID uint64 `json:"chain_id"`
	Day     string `json:"day"`
}
