package nodepool

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"loyalty-engine/internal/config"
	apperrors "loyalty-engine/pkg/errors"
	"loyalty-engine/pkg/logger"
)

// RPCClient 链上只读RPC接口，*ethclient.Client天然满足
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Dialer func(rawurl string) (RPCClient, error)

func defaultDialer(rawurl string) (RPCClient, error) {
	return ethclient.Dial(rawurl)
}

const (
	DefaultErrorThreshold = 5
	DefaultErrorWindow    = time.Minute
	DefaultFallbackTTL    = 5 * time.Minute
)

// Pool 每条链持有一个主RPC客户端和一个备用节点
// 错误计数存放在redis，窗口内超过阈值时切换到备用节点
type Pool struct {
	rdb  *redis.Client
	dial Dialer

	mu        sync.Mutex
	chains    map[uint64]config.ChainConfig
	primaries map[uint64]RPCClient
	fallbacks map[uint64]RPCClient

	errThreshold int64
	errWindow    time.Duration
	fallbackTTL  time.Duration
}

func New(rdb *redis.Client, chains []config.ChainConfig) *Pool {
	p := &Pool{
		rdb:          rdb,
		dial:         defaultDialer,
		chains:       make(map[uint64]config.ChainConfig),
		primaries:    make(map[uint64]RPCClient),
		fallbacks:    make(map[uint64]RPCClient),
		errThreshold: DefaultErrorThreshold,
		errWindow:    DefaultErrorWindow,
		fallbackTTL:  DefaultFallbackTTL,
	}
	for _, chain := range chains {
		p.chains[chain.ChainID] = chain
	}
	return p
}

// WithDialer 注入自定义拨号函数，测试用
func (p *Pool) WithDialer(dial Dialer) *Pool {
	p.dial = dial
	return p
}

// Client 返回当前应使用的RPC客户端
// 备用节点激活标记存在时返回备用节点，过期后自动回到主节点
func (p *Pool) Client(ctx context.Context, chainID uint64) (RPCClient, error) {
	chain, ok := p.chains[chainID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalidChain,
			fmt.Sprintf("链未配置: %d", chainID), nil)
	}

	active, err := p.rdb.Exists(ctx, fallbackKey(chainID)).Result()
	if err != nil {
		logger.WithChain(chainID).Warn("读取备用节点标记失败: ", err)
	}

	if active > 0 && chain.FallbackRPCURL != "" {
		return p.fallbackClient(chain)
	}
	return p.primaryClient(chain)
}

// ReportError 上报一次RPC失败
// 窗口内计数超过阈值且备用节点未激活时，激活备用节点
func (p *Pool) ReportError(ctx context.Context, chainID uint64, rpcErr error) {
	logger.WithFields(map[string]interface{}{
		"chain_id": chainID,
		"error":    rpcErr,
	}).Error("RPC调用失败")

	key := errorKey(chainID)
	count, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		logger.WithChain(chainID).Warn("错误计数失败: ", err)
		return
	}
	if count == 1 {
		p.rdb.Expire(ctx, key, p.errWindow)
	}

	if count <= p.errThreshold {
		return
	}

	activated, err := p.rdb.SetNX(ctx, fallbackKey(chainID), "1", p.fallbackTTL).Result()
	if err != nil {
		logger.WithChain(chainID).Warn("激活备用节点失败: ", err)
		return
	}
	if activated {
		logger.WithFields(map[string]interface{}{
			"chain_id":    chainID,
			"error_count": count,
			"ttl":         p.fallbackTTL,
		}).Warn("错误超过阈值，切换到备用节点")
	}
}

// FallbackActive 返回指定链的备用节点是否处于激活状态
func (p *Pool) FallbackActive(ctx context.Context, chainID uint64) bool {
	n, err := p.rdb.Exists(ctx, fallbackKey(chainID)).Result()
	return err == nil && n > 0
}

func (p *Pool) primaryClient(chain config.ChainConfig) (RPCClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.primaries[chain.ChainID]; ok {
		return client, nil
	}
	client, err := p.dial(chain.RPCURL)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrRPConnect,
			fmt.Sprintf("连接主节点失败: %s", chain.RPCURL), err)
	}
	p.primaries[chain.ChainID] = client
	return client, nil
}

func (p *Pool) fallbackClient(chain config.ChainConfig) (RPCClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.fallbacks[chain.ChainID]; ok {
		return client, nil
	}

	url := chain.FallbackRPCURL
	if chain.FallbackAPIKey != "" {
		url = strings.TrimRight(url, "/") + "/" + chain.FallbackAPIKey
	}

	client, err := p.dial(url)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrRPConnect,
			fmt.Sprintf("连接备用节点失败: %s", chain.FallbackRPCURL), err)
	}
	p.fallbacks[chain.ChainID] = client
	return client, nil
}

func errorKey(chainID uint64) string {
	return fmt.Sprintf("nodepool:errs:%d", chainID)
}

func fallbackKey(chainID uint64) string {
	return fmt.Sprintf("nodepool:fallback:%d", chainID)
}
