package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OperationAddPurchase OperationType = "add_purchase"
	OperationAddStaking  OperationType = "add_staking"
	OperationAddReferral OperationType = "add_referral"
	OperationAddExtra    OperationType = "add_extra"
	OperationManual      OperationType = "manual"
)

type LedgerEntry struct {
	ID                 uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OperationType      OperationType   `gorm:"type:enum('add_purchase','add_staking','add_referral','add_extra','manual');not null" json:"operation_type"`
	PointsBefore       decimal.Decimal `gorm:"type:decimal(30,2);not null" json:"points_before"`
	Amount             decimal.Decimal `gorm:"type:decimal(30,2);not null" json:"amount"`
	PointsAfter        decimal.Decimal `gorm:"type:decimal(30,2);not null" json:"points_after"`
	Reason             string          `gorm:"size:191;index:idx_profile_reason" json:"reason"`
	ProjectID          string          `gorm:"size:100" json:"project_id"`
	ProfileID          uint64          `gorm:"not null;index:idx_profile_reason" json:"profile_id"`
	ReferringProfileID *uint64         `gorm:"index" json:"referring_profile_id"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
