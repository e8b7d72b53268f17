package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"loyalty-engine/internal/config"
	"loyalty-engine/internal/models"
	"loyalty-engine/internal/nodepool"
	"loyalty-engine/internal/scheduler"
	apperrors "loyalty-engine/pkg/errors"
	"loyalty-engine/pkg/logger"
)

// NodeSource 提供RPC客户端并接收失败上报，由节点池实现
type NodeSource interface {
	Client(ctx context.Context, chainID uint64) (nodepool.RPCClient, error)
	ReportError(ctx context.Context, chainID uint64, err error)
}

// CheckpointStore 扫描检查点的持久化接口
type CheckpointStore interface {
	LastBlock(ctx context.Context, chainID uint64, scope string) (int64, bool, error)
	SetLastBlock(ctx context.Context, chainID uint64, scope string, block int64) error
}

// EventSink 幂等事件存储，返回每条记录是否为新插入
type EventSink interface {
	AddBatch(ctx context.Context, records []*models.EventRecord) ([]bool, error)
}

// JobEnqueuer 入账任务投递接口
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job string, payload interface{}, delay time.Duration) error
}

// Scanner 按扫描范围推进区块窗口并写入事件
// 检查点只在窗口内事件全部落库后推进，任何失败都放弃当前窗口等下次触发重试
type Scanner struct {
	chainID     uint64
	scope       config.ScopeConfig
	contract    common.Address
	parser      *Parser
	nodes       NodeSource
	checkpoints CheckpointStore
	events      EventSink
	jobs        JobEnqueuer

	windowSize   int64
	seedLookback int64
	throttle     time.Duration
}

func NewScanner(
	chainID uint64,
	scope config.ScopeConfig,
	nodes NodeSource,
	checkpoints CheckpointStore,
	events EventSink,
	jobs JobEnqueuer,
	scannerCfg config.ScannerConfig,
) *Scanner {
	return &Scanner{
		chainID:      chainID,
		scope:        scope,
		contract:     common.HexToAddress(scope.ContractAddress),
		parser:       NewParser(chainID, scope),
		nodes:        nodes,
		checkpoints:  checkpoints,
		events:       events,
		jobs:         jobs,
		windowSize:   scannerCfg.WindowSize,
		seedLookback: scannerCfg.SeedLookback,
		throttle:     time.Duration(scannerCfg.ThrottleMillis) * time.Millisecond,
	}
}

func (s *Scanner) ScopeKey() string {
	return s.scope.Key
}

// Tick 执行一轮扫描：从检查点追到当前链头
func (s *Scanner) Tick(ctx context.Context) error {
	client, err := s.nodes.Client(ctx, s.chainID)
	if err != nil {
		return err
	}

	headU, err := client.BlockNumber(ctx)
	if err != nil {
		s.nodes.ReportError(ctx, s.chainID, err)
		return apperrors.New(apperrors.ErrBlockFetch, "获取最新区块失败", err)
	}
	head := int64(headU)

	cp, ok, err := s.checkpoints.LastBlock(ctx, s.chainID, s.scope.Key)
	if err != nil {
		return err
	}
	if !ok {
		cp = head - s.seedLookback
		if cp < 0 {
			cp = 0
		}
		if err := s.checkpoints.SetLastBlock(ctx, s.chainID, s.scope.Key, cp); err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"chain_id":   s.chainID,
			"scope":      s.scope.Key,
			"checkpoint": cp,
		}).Info("检查点不存在，从回溯位置开始")
	}

	for {
		from := cp + 1
		to := cp + s.windowSize
		if to > head {
			to = head
		}
		if from > to {
			return nil
		}

		if err := s.scanWindow(ctx, client, from, to); err != nil {
			return err
		}
		cp = to
		if cp >= head {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.throttle):
		}
	}
}

func (s *Scanner) scanWindow(ctx context.Context, client nodepool.RPCClient, from, to int64) error {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{s.parser.Topics()},
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		s.nodes.ReportError(ctx, s.chainID, err)
		return apperrors.New(apperrors.ErrBlockFetch,
			fmt.Sprintf("获取日志失败 [%d,%d]", from, to), err)
	}

	var records []*models.EventRecord
	for _, log := range logs {
		if record := s.parser.Parse(log); record != nil {
			records = append(records, record)
		}
	}

	if len(records) > 0 {
		inserted, err := s.events.AddBatch(ctx, records)
		if err != nil {
			return apperrors.New(apperrors.ErrEventStore, "事件落库失败", err)
		}
		// 落库提交后，每条新的购买/质押/注册事件各触发一个任务
		for i, record := range records {
			if !inserted[i] {
				continue
			}
			if err := s.enqueueJob(ctx, record); err != nil {
				return err
			}
		}
	}

	if err := s.checkpoints.SetLastBlock(ctx, s.chainID, s.scope.Key, to); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"chain_id":   s.chainID,
		"scope":      s.scope.Key,
		"from_block": from,
		"to_block":   to,
		"logs_count": len(logs),
	}).Info("扫描窗口完成")

	return nil
}

func (s *Scanner) enqueueJob(ctx context.Context, record *models.EventRecord) error {
	var job string
	switch record.EventType {
	case models.EventTokensBought:
		job = scheduler.JobCreditPurchase
	case models.EventStaked:
		job = scheduler.JobCreditStake
	case models.EventRegistered:
		job = scheduler.JobRegister
	default:
		return nil
	}

	payload := scheduler.CreditJob{
		ChainID:      record.ChainID,
		ScopeKey:     record.ContractScopeID,
		UserAddress:  record.UserAddress,
		TxnHash:      record.TxnHash,
		TokenAddress: record.TokenAddress,
		EventType:    string(record.EventType),
	}
	if amount, ok := record.Extra["amount"].(string); ok {
		payload.RawAmount = amount
	}
	if referrer, ok := record.Extra["referrer"].(string); ok {
		payload.Referrer = referrer
	}

	return s.jobs.Enqueue(ctx, job, payload, 0)
}
