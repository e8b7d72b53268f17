package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyalty-engine/internal/models"
)

// Tx 一次记账事务内可用的操作集合
// 账户行锁由ProfileForUpdate持有，事务提交或回滚时释放
type Tx interface {
	ProfileForUpdate(ctx context.Context, address string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	EntryExists(ctx context.Context, profileID uint64, reason string) (bool, error)
	ExtraBalanceForUpdate(ctx context.Context, profileID uint64, projectID string) (*models.ExtraPointsBalance, error)
	SaveExtraBalance(ctx context.Context, balance *models.ExtraPointsBalance) error
}

// TxStore 积分账本的事务入口
type TxStore interface {
	Transact(ctx context.Context, fn func(Tx) error) error
	ProfileByID(ctx context.Context, id uint64) (*models.Profile, error)
	ProfileByAddress(ctx context.Context, address string) (*models.Profile, error)
}

type LedgerRepository struct {
	db                *gorm.DB
	defaultRefPercent float64
}

func NewLedgerRepository(db *gorm.DB, defaultRefPercent float64) *LedgerRepository {
	return &LedgerRepository{db: db, defaultRefPercent: defaultRefPercent}
}

// Transact 在单个数据库事务内执行fn，任何错误导致整体回滚
func (r *LedgerRepository) Transact(ctx context.Context, fn func(Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx, defaultRefPercent: r.defaultRefPercent})
	})
}

func (r *LedgerRepository) ProfileByID(ctx context.Context, id uint64) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).First(&profile, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &profile, err
}

func (r *LedgerRepository) ProfileByAddress(ctx context.Context, address string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).
		Where("address = ?", strings.ToLower(address)).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &profile, err
}

// EntriesByProfile 查询账户的账本流水，按时间倒序
func (r *LedgerRepository) EntriesByProfile(ctx context.Context, profileID uint64, limit int) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.LedgerEntry
	err := query.Find(&entries).Error
	return entries, err
}

type ledgerTx struct {
	db                *gorm.DB
	defaultRefPercent float64
}

// ProfileForUpdate 按地址加行锁读取账户，首次出现时惰性创建
// 地址统一转为小写后查询
func (t *ledgerTx) ProfileForUpdate(ctx context.Context, address string) (*models.Profile, error) {
	addr := strings.ToLower(address)

	var profile models.Profile
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", addr).
		First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	profile = models.Profile{
		Address:    addr,
		RefPercent: t.defaultRefPercent,
	}
	if createErr := t.db.WithContext(ctx).Create(&profile).Error; createErr != nil {
		// 并发创建撞上唯一索引时重新加锁读取
		err = t.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("address = ?", addr).
			First(&profile).Error
		if err != nil {
			return nil, createErr
		}
	}
	return &profile, nil
}

func (t *ledgerTx) SaveProfile(ctx context.Context, profile *models.Profile) error {
	return t.db.WithContext(ctx).Save(profile).Error
}

func (t *ledgerTx) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return t.db.WithContext(ctx).Create(entry).Error
}

// EntryExists 判断指定账户是否已存在相同reason的账本记录
// 批量发放任务用它做按天幂等
func (t *ledgerTx) EntryExists(ctx context.Context, profileID uint64, reason string) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("profile_id = ? AND reason = ?", profileID, reason).
		Count(&count).Error
	return count > 0, err
}

// ExtraBalanceForUpdate 加行锁读取项目维度的子余额，不存在则创建
// 唯一索引保证并发下不会出现重复行
func (t *ledgerTx) ExtraBalanceForUpdate(ctx context.Context, profileID uint64, projectID string) (*models.ExtraPointsBalance, error) {
	var balance models.ExtraPointsBalance
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("profile_id = ? AND project_id = ?", profileID, projectID).
		First(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	balance = models.ExtraPointsBalance{
		ProfileID: profileID,
		ProjectID: projectID,
	}
	if createErr := t.db.WithContext(ctx).Create(&balance).Error; createErr != nil {
		err = t.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("profile_id = ? AND project_id = ?", profileID, projectID).
			First(&balance).Error
		if err != nil {
			return nil, createErr
		}
	}
	return &balance, nil
}

func (t *ledgerTx) SaveExtraBalance(ctx context.Context, balance *models.ExtraPointsBalance) error {
	return t.db.WithContext(ctx).Save(balance).Error
}
