package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExtraPointsBalance struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProfileID uint64          `gorm:"uniqueIndex:uk_profile_project;not null" json:"profile_id"`
	ProjectID string          `gorm:"uniqueIndex:uk_profile_project;size:100;not null" json:"project_id"`
	Points    decimal.Decimal `gorm:"type:decimal(30,2);not null;default:0" json:"points"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExtraPointsBalance) TableName() string {
	return "extra_points_balances"
}
