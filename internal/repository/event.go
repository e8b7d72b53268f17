package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyalty-engine/internal/models"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Add 幂等写入单条事件记录
// txn_hash重复时静默跳过，返回值表示本次是否真正插入
func (r *EventRepository) Add(ctx context.Context, record *models.EventRecord) (bool, error) {
	results, err := r.AddBatch(ctx, []*models.EventRecord{record})
	if err != nil {
		return false, err
	}
	return results[0], nil
}

// AddBatch 在单个事务内幂等写入一批事件记录
// 重复由唯一索引兜底：txn_hash全局唯一，注册事件另按(范围, 用户)唯一
// 整批要么全部提交要么全部回滚，扫描窗口可安全重放
func (r *EventRepository) AddBatch(ctx context.Context, records []*models.EventRecord) ([]bool, error) {
	inserted := make([]bool, len(records))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, record := range records {
			record.SetRegistrationKey()
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
			if result.Error != nil {
				return result.Error
			}
			inserted[i] = result.RowsAffected > 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

type EventFilter struct {
	ChainID         uint64
	UserAddress     string
	EventType       models.EventType
	ContractScopeID string
	FromBlock       int64
	ToBlock         int64
	Limit           int
}

// List 按过滤条件查询事件记录，按区块号升序
func (r *EventRepository) List(ctx context.Context, filter EventFilter) ([]models.EventRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.EventRecord{})

	if filter.ChainID > 0 {
		query = query.Where("chain_id = ?", filter.ChainID)
	}
	if filter.UserAddress != "" {
		query = query.Where("user_address = ?", filter.UserAddress)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.ContractScopeID != "" {
		query = query.Where("contract_scope_id = ?", filter.ContractScopeID)
	}
	if filter.FromBlock > 0 {
		query = query.Where("block_number >= ?", filter.FromBlock)
	}
	if filter.ToBlock > 0 {
		query = query.Where("block_number <= ?", filter.ToBlock)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []models.EventRecord
	err := query.Order("block_number ASC").Find(&records).Error
	return records, err
}

// StakerAddresses 分页返回指定范围内出现过质押事件的用户地址
func (r *EventRepository) StakerAddresses(ctx context.Context, chainID uint64, scopeID string, offset, limit int) ([]string, error) {
	var addresses []string
	err := r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Distinct("user_address").
		Where("chain_id = ? AND contract_scope_id = ? AND event_type = ?",
			chainID, scopeID, models.EventStaked).
		Order("user_address ASC").
		Offset(offset).
		Limit(limit).
		Pluck("user_address", &addresses).Error
	return addresses, err
}
