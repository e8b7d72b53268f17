package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"loyalty-engine/internal/models"
	"loyalty-engine/internal/repository"
	apperrors "loyalty-engine/pkg/errors"
	"loyalty-engine/pkg/logger"
)

type PointsService struct {
	store repository.TxStore
}

func NewPointsService(store repository.TxStore) *PointsService {
	return &PointsService{store: store}
}

type AddPointsInput struct {
	Address            string
	Amount             decimal.Decimal
	Operation          models.OperationType
	ProjectID          string
	ReferringProfileID *uint64
	Reason             string
}

// AddPoints 给账户记入积分
// 单个数据库事务内：行锁账户 → 更新余额 → 追加账本记录，任何失败整体回滚
// Reason非空时按(账户, Reason)幂等，重复入账直接跳过
// 入账成功后若账户有推荐人，另起一笔独立账务给推荐人按比例分成
func (s *PointsService) AddPoints(ctx context.Context, in AddPointsInput) (*models.Profile, error) {
	if in.Amount.IsZero() {
		return nil, apperrors.New(apperrors.ErrPointsCredit, "入账金额不能为零", nil)
	}

	var credited *models.Profile
	skipped := false

	err := s.store.Transact(ctx, func(tx repository.Tx) error {
		profile, err := tx.ProfileForUpdate(ctx, in.Address)
		if err != nil {
			return err
		}

		if in.Reason != "" {
			exists, err := tx.EntryExists(ctx, profile.ID, in.Reason)
			if err != nil {
				return err
			}
			if exists {
				skipped = true
				credited = profile
				return nil
			}
		}

		before := profile.Points
		profile.Points = before.Add(in.Amount)
		if in.Operation == models.OperationAddReferral {
			profile.RefPoints = profile.RefPoints.Add(in.Amount)
		}
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			OperationType:      in.Operation,
			PointsBefore:       before,
			Amount:             in.Amount,
			PointsAfter:        before.Add(in.Amount),
			Reason:             in.Reason,
			ProfileID:          profile.ID,
			ReferringProfileID: in.ReferringProfileID,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		if in.ProjectID != "" {
			if err := s.creditExtra(ctx, tx, profile.ID, in); err != nil {
				return err
			}
		}

		credited = profile
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrPointsCredit, "积分入账失败", err)
	}

	if skipped {
		logger.WithFields(map[string]interface{}{
			"address": credited.Address,
			"reason":  in.Reason,
		}).Debug("账本记录已存在，跳过入账")
	} else {
		logger.WithFields(map[string]interface{}{
			"address":   credited.Address,
			"amount":    in.Amount.String(),
			"operation": in.Operation,
			"points":    credited.Points.String(),
		}).Info("积分已入账")
	}

	// 主账务命中幂等跳过时仍要走分成：上一次尝试可能在主账务提交后、
	// 分成提交前失败，分成自身按ref:reason幂等，补发不会重复
	if credited.ReferrerID != nil && in.Operation != models.OperationAddReferral && in.Amount.IsPositive() {
		if err := s.creditReferrer(ctx, credited, in); err != nil {
			return nil, err
		}
	}

	return credited, nil
}

// creditExtra 同一事务、同一锁范围内记入项目维度的子余额
func (s *PointsService) creditExtra(ctx context.Context, tx repository.Tx, profileID uint64, in AddPointsInput) error {
	balance, err := tx.ExtraBalanceForUpdate(ctx, profileID, in.ProjectID)
	if err != nil {
		return err
	}

	before := balance.Points
	balance.Points = before.Add(in.Amount)
	if err := tx.SaveExtraBalance(ctx, balance); err != nil {
		return err
	}

	return tx.AppendEntry(ctx, &models.LedgerEntry{
		OperationType: models.OperationAddExtra,
		PointsBefore:  before,
		Amount:        in.Amount,
		PointsAfter:   before.Add(in.Amount),
		Reason:        in.Reason,
		ProjectID:     in.ProjectID,
		ProfileID:     profileID,
	})
}

// creditReferrer 推荐人分成：round(金额 × ref_percent / 100, 2)
// 独立于主账务的第二笔事务，referring_profile_id指回被推荐账户
func (s *PointsService) creditReferrer(ctx context.Context, credited *models.Profile, in AddPointsInput) error {
	referrer, err := s.store.ProfileByID(ctx, *credited.ReferrerID)
	if err != nil {
		return apperrors.New(apperrors.ErrPointsCredit, "读取推荐人失败", err)
	}
	if referrer == nil || referrer.RefPercent <= 0 {
		return nil
	}

	share := in.Amount.
		Mul(decimal.NewFromFloat(referrer.RefPercent)).
		Div(decimal.NewFromInt(100)).
		Round(2)
	if !share.IsPositive() {
		return nil
	}

	reason := ""
	if in.Reason != "" {
		reason = "ref:" + in.Reason
	}

	_, err = s.AddPoints(ctx, AddPointsInput{
		Address:            referrer.Address,
		Amount:             share,
		Operation:          models.OperationAddReferral,
		ReferringProfileID: &credited.ID,
		Reason:             reason,
	})
	return err
}

// EnsureProfile 惰性创建账户，并在首次注册时绑定推荐人
func (s *PointsService) EnsureProfile(ctx context.Context, address, referrerAddress string) error {
	referrerAddress = strings.ToLower(referrerAddress)

	return s.store.Transact(ctx, func(tx repository.Tx) error {
		profile, err := tx.ProfileForUpdate(ctx, address)
		if err != nil {
			return err
		}

		if referrerAddress == "" || profile.ReferrerID != nil || profile.RefBonusUsed {
			return nil
		}
		if referrerAddress == profile.Address {
			return nil
		}

		referrer, err := tx.ProfileForUpdate(ctx, referrerAddress)
		if err != nil {
			return err
		}

		profile.ReferrerID = &referrer.ID
		profile.RefBonusUsed = true
		return tx.SaveProfile(ctx, profile)
	})
}
