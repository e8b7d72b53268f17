package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type EventType string

const (
	EventRegistered   EventType = "registered"
	EventTokensBought EventType = "tokens_bought"
	EventStaked       EventType = "staked"
	EventUnstaked     EventType = "unstaked"
	EventClaimRewards EventType = "claim_rewards"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

type EventRecord struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType       EventType `gorm:"type:enum('registered','tokens_bought','staked','unstaked','claim_rewards');not null;index:idx_type_scope" json:"event_type"`
	UserAddress     string    `gorm:"size:42;not null;index" json:"user_address"`
	TokenAddress    string    `gorm:"size:42" json:"token_address"`
	ContractScopeID string    `gorm:"size:100;not null;index:idx_type_scope" json:"contract_scope_id"`
	ChainID         uint64    `gorm:"not null" json:"chain_id"`
	TxnHash         string    `gorm:"size:66;not null;uniqueIndex:uk_txn_hash" json:"txn_hash"`
	RegistrationKey *string   `gorm:"size:191;uniqueIndex:uk_registration" json:"-"`
	BlockNumber     int64     `gorm:"not null;index" json:"block_number"`
	Extra           JSONB     `gorm:"type:json" json:"extra"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (EventRecord) TableName() string {
	return "event_records"
}

// SetRegistrationKey 注册事件生成(范围, 用户)维度的唯一键，同一用户同一范围只注册一次
// 其余事件类型留空，不参与该唯一索引
func (e *EventRecord) SetRegistrationKey() {
	if e.EventType != EventRegistered {
		return
	}
	key := e.ContractScopeID + ":" + e.UserAddress
	e.RegistrationKey = &key
}
