package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Profile struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Address      string          `gorm:"size:42;not null;uniqueIndex:uk_address" json:"address"`
	Points       decimal.Decimal `gorm:"type:decimal(30,2);not null;default:0" json:"points"`
	RefPoints    decimal.Decimal `gorm:"type:decimal(30,2);not null;default:0" json:"ref_points"`
	RefPercent   float64         `gorm:"not null;default:0" json:"ref_percent"`
	ReferrerID   *uint64         `gorm:"index" json:"referrer_id"`
	RefBonusUsed bool            `gorm:"not null;default:false" json:"ref_bonus_used"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Profile) TableName() string {
	return "profiles"
}
