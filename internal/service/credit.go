package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"loyalty-engine/internal/config"
	"loyalty-engine/internal/models"
	"loyalty-engine/internal/scheduler"
	apperrors "loyalty-engine/pkg/errors"
	"loyalty-engine/pkg/logger"
)

// CreditService 消费入账任务：独立推导奖励金额并记账
type CreditService struct {
	cfg    *config.Config
	points *PointsService
}

func NewCreditService(cfg *config.Config, points *PointsService) *CreditService {
	return &CreditService{cfg: cfg, points: points}
}

// HandlePurchase 处理购买入账任务
// 配置缺失属于编程/配置错误，直接失败不重试；账本错误可重试
func (s *CreditService) HandlePurchase(ctx context.Context, payload []byte, attempt int) scheduler.Result {
	var job scheduler.CreditJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrEventParse, "任务载荷格式错误", err))
	}

	chain, err := s.cfg.GetChainConfig(job.ChainID)
	if err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrInvalidChain, "链未配置", err))
	}

	scope, err := findScope(chain, job.ScopeKey)
	if err != nil {
		return scheduler.Fail(err)
	}

	price, ok := s.cfg.Points.TokenPricesUSD[strings.ToLower(job.TokenAddress)]
	if !ok || price <= 0 {
		return scheduler.Fail(apperrors.New(apperrors.ErrInvalidScope,
			fmt.Sprintf("代币价格未配置: %s", job.TokenAddress), nil))
	}

	raw, ok := new(big.Int).SetString(job.RawAmount, 10)
	if !ok {
		return scheduler.Fail(apperrors.New(apperrors.ErrEventParse,
			fmt.Sprintf("金额格式错误: %s", job.RawAmount), nil))
	}

	tokens := decimal.NewFromBigInt(raw, -18)
	usd := tokens.Mul(decimal.NewFromFloat(price))
	bonus := PurchaseBonus(usd, s.cfg.Points.PurchaseTiers, s.cfg.Points.BonusMultipliers[scope.ProjectID])
	if !bonus.IsPositive() {
		logger.WithFields(map[string]interface{}{
			"txn_hash": job.TxnHash,
			"usd":      usd.String(),
		}).Debug("购买金额未达到任何奖励档位")
		return scheduler.Done()
	}

	_, err = s.points.AddPoints(ctx, AddPointsInput{
		Address:   job.UserAddress,
		Amount:    bonus,
		Operation: models.OperationAddPurchase,
		ProjectID: scope.ProjectID,
		Reason:    "purchase:" + job.TxnHash,
	})
	if err != nil {
		return scheduler.Retry(0, err)
	}
	return scheduler.Done()
}

// HandleStake 处理质押入账任务
// 质押奖励由每日批量任务发放，这里只保证账户已建立
func (s *CreditService) HandleStake(ctx context.Context, payload []byte, attempt int) scheduler.Result {
	var job scheduler.CreditJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrEventParse, "任务载荷格式错误", err))
	}

	if err := s.points.EnsureProfile(ctx, job.UserAddress, ""); err != nil {
		return scheduler.Retry(0, err)
	}
	return scheduler.Done()
}

// HandleRegistration 处理注册任务：建立账户并绑定推荐人
func (s *CreditService) HandleRegistration(ctx context.Context, payload []byte, attempt int) scheduler.Result {
	var job scheduler.CreditJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrEventParse, "任务载荷格式错误", err))
	}

	if err := s.points.EnsureProfile(ctx, job.UserAddress, job.Referrer); err != nil {
		return scheduler.Retry(0, err)
	}
	return scheduler.Done()
}

func findScope(chain *config.ChainConfig, key string) (*config.ScopeConfig, error) {
	for i := range chain.Scopes {
		if chain.Scopes[i].Key == key {
			return &chain.Scopes[i], nil
		}
	}
	return nil, apperrors.New(apperrors.ErrInvalidScope,
		fmt.Sprintf("扫描范围未配置: %s", key), nil)
}
