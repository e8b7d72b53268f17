package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"loyalty-engine/internal/config"
	"loyalty-engine/internal/models"
	"loyalty-engine/internal/multicall"
	"loyalty-engine/internal/scheduler"
	apperrors "loyalty-engine/pkg/errors"
	"loyalty-engine/pkg/logger"
)

const (
	sweepLockTTL   = 10 * time.Minute
	sweepPageSize  = 200
	balanceViewSig = "balanceOf(address)"
)

// StakerSource 按范围分页列出出现过质押事件的地址
type StakerSource interface {
	StakerAddresses(ctx context.Context, chainID uint64, scopeID string, offset, limit int) ([]string, error)
}

// BatchCaller 批量只读合约调用，由multicall引擎实现
type BatchCaller interface {
	TryAggregate(ctx context.Context, chainID uint64, calls []multicall.Call) ([]multicall.Result, error)
}

// SweepLocker 批量任务级别的命名锁
type SweepLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// SweepEnqueuer 批量发放任务的投递接口
type SweepEnqueuer interface {
	Enqueue(ctx context.Context, job string, payload interface{}, delay time.Duration) error
}

// StakingService 每日质押奖励批量发放
// 整个批次持有一把命名锁，防止两个实例同一天双重发放
// 锁是尽力而为的：TTL到期后可能与新批次重叠，按(账户, reason)幂等兜底
type StakingService struct {
	cfg     *config.Config
	locker  SweepLocker
	points  *PointsService
	stakers StakerSource
	calls   BatchCaller
	jobs    SweepEnqueuer
}

func NewStakingService(
	cfg *config.Config,
	locker SweepLocker,
	points *PointsService,
	stakers StakerSource,
	calls BatchCaller,
	jobs SweepEnqueuer,
) *StakingService {
	return &StakingService{
		cfg:     cfg,
		locker:  locker,
		points:  points,
		stakers: stakers,
		calls:   calls,
		jobs:    jobs,
	}
}

// RunDailySweeps 给每条启用链各投递一个当日批量发放任务
// 每条链独立一个任务，单链失败由队列按退避重试，不影响其他链
func (s *StakingService) RunDailySweeps(ctx context.Context) error {
	day := time.Now().UTC().Format("2006-01-02")
	for _, chain := range s.cfg.GetEnabledChains() {
		if len(chain.Pools) == 0 {
			continue
		}
		payload := scheduler.SweepJob{ChainID: chain.ChainID, Day: day}
		if err := s.jobs.Enqueue(ctx, scheduler.JobStakingSweep, payload, 0); err != nil {
			logger.WithChain(chain.ChainID).Error("投递批量发放任务失败: ", err)
		}
	}
	return nil
}

// HandleSweep 消费批量发放任务
// 发放按(账户, reason)幂等，重试只补发尚未入账的地址
func (s *StakingService) HandleSweep(ctx context.Context, payload []byte, attempt int) scheduler.Result {
	var job scheduler.SweepJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrEventParse, "任务载荷格式错误", err))
	}

	chain, err := s.cfg.GetChainConfig(job.ChainID)
	if err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrInvalidChain, "链未配置", err))
	}

	day, err := time.Parse("2006-01-02", job.Day)
	if err != nil {
		return scheduler.Fail(apperrors.New(apperrors.ErrEventParse, "日期格式错误: "+job.Day, err))
	}

	if err := s.RunSweep(ctx, *chain, day); err != nil {
		return scheduler.Retry(0, err)
	}
	return scheduler.Done()
}

// RunSweep 单条链的当日批量发放
func (s *StakingService) RunSweep(ctx context.Context, chain config.ChainConfig, day time.Time) error {
	lockKey := fmt.Sprintf("sweep:staking:%d", chain.ChainID)

	acquired, err := s.locker.Acquire(ctx, lockKey, sweepLockTTL)
	if err != nil {
		return apperrors.New(apperrors.ErrLock, "获取批量锁失败", err)
	}
	if !acquired {
		logger.WithChain(chain.ChainID).Warn("批量发放已在运行，跳过")
		return nil
	}
	defer s.locker.Release(ctx, lockKey)

	for _, pool := range chain.Pools {
		if err := s.sweepPool(ctx, chain, pool, day, lockKey); err != nil {
			return err
		}
	}

	logger.WithFields(map[string]interface{}{
		"chain_id": chain.ChainID,
		"day":      day.Format("2006-01-02"),
	}).Info("当日质押奖励发放完成")
	return nil
}

func (s *StakingService) sweepPool(ctx context.Context, chain config.ChainConfig, pool config.PoolConfig, day time.Time, lockKey string) error {
	target := common.HexToAddress(pool.ContractAddress)
	reason := fmt.Sprintf("staking:%s:%s", pool.ID, day.Format("2006-01-02"))

	for offset := 0; ; offset += sweepPageSize {
		addresses, err := s.stakers.StakerAddresses(ctx, chain.ChainID, pool.ID, offset, sweepPageSize)
		if err != nil {
			return apperrors.New(apperrors.ErrEventStore, "读取质押用户失败", err)
		}
		if len(addresses) == 0 {
			return nil
		}

		calls := make([]multicall.Call, len(addresses))
		for i, addr := range addresses {
			calls[i] = multicall.Call{
				Target:   target,
				CallData: multicall.PackViewCall(balanceViewSig, common.HexToAddress(addr)),
			}
		}

		results, err := s.calls.TryAggregate(ctx, chain.ChainID, calls)
		if err != nil {
			return err
		}

		for i, addr := range addresses {
			raw, known := multicall.UnpackUint256(results[i])
			if !known {
				// 余额未知不等于零，跳过本轮等下次
				logger.WithFields(map[string]interface{}{
					"chain_id": chain.ChainID,
					"pool":     pool.ID,
					"address":  addr,
				}).Warn("质押余额读取失败，本轮跳过")
				continue
			}

			balance := decimal.NewFromBigInt(raw, -18)
			tierCoef := BalanceTierCoefficient(balance, s.cfg.Points.BalanceTiers)
			reward := StakingDailyReward(balance, s.cfg.Points.StakingAPR, pool.Booster, tierCoef, s.cfg.Points.DayCount)
			if !reward.IsPositive() {
				continue
			}

			_, err := s.points.AddPoints(ctx, AddPointsInput{
				Address:   addr,
				Amount:    reward,
				Operation: models.OperationAddStaking,
				ProjectID: pool.ID,
				Reason:    reason,
			})
			if err != nil {
				return err
			}
		}

		if len(addresses) < sweepPageSize {
			return nil
		}
		if err := s.locker.Extend(ctx, lockKey, sweepLockTTL); err != nil {
			logger.Warn("延长批量锁失败: ", err)
		}
	}
}
