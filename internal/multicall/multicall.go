package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"loyalty-engine/internal/nodepool"
	apperrors "loyalty-engine/pkg/errors"
)

const tryAggregateABI = `[{
	"name": "tryAggregate",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "requireSuccess", "type": "bool"},
		{"name": "calls", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "callData", "type": "bytes"}
		]}
	],
	"outputs": [
		{"name": "returnData", "type": "tuple[]", "components": [
			{"name": "success", "type": "bool"},
			{"name": "returnData", "type": "bytes"}
		]}
	]
}]`

var aggregatorABI = mustParseABI(tryAggregateABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("multicall: invalid ABI: %v", err))
	}
	return parsed
}

type Call struct {
	Target   common.Address
	CallData []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}

// NodeSource 提供RPC客户端，由节点池实现
type NodeSource interface {
	Client(ctx context.Context, chainID uint64) (nodepool.RPCClient, error)
	ReportError(ctx context.Context, chainID uint64, err error)
}

// Caller 将多个独立的只读合约调用打包成一次tryAggregate调用
type Caller struct {
	nodes       NodeSource
	aggregators map[uint64]common.Address
}

func NewCaller(nodes NodeSource, aggregators map[uint64]common.Address) *Caller {
	return &Caller{nodes: nodes, aggregators: aggregators}
}

// TryAggregate 执行一批只读调用，结果严格按输入顺序返回
// requireSuccess固定为false，单个子调用失败不会中断整批
func (c *Caller) TryAggregate(ctx context.Context, chainID uint64, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	aggregator, ok := c.aggregators[chainID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalidChain,
			fmt.Sprintf("multicall合约未配置: %d", chainID), nil)
	}

	input, err := aggregatorABI.Pack("tryAggregate", false, calls)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrMulticall, "编码tryAggregate失败", err)
	}

	client, err := c.nodes.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &aggregator, Data: input}, nil)
	if err != nil {
		c.nodes.ReportError(ctx, chainID, err)
		return nil, apperrors.New(apperrors.ErrRPCCall, "执行tryAggregate失败", err)
	}

	results, err := UnpackResults(raw)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, apperrors.New(apperrors.ErrMulticall,
			fmt.Sprintf("结果数量不匹配: 期望%d实际%d", len(calls), len(results)), nil)
	}
	return results, nil
}

// PackCalls 打包一批调用为tryAggregate的calldata，供测试和调试使用
func PackCalls(calls []Call) ([]byte, error) {
	return aggregatorABI.Pack("tryAggregate", false, calls)
}

// UnpackResults 解码tryAggregate的返回值
func UnpackResults(raw []byte) ([]Result, error) {
	out, err := aggregatorABI.Unpack("tryAggregate", raw)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrMulticall, "解码tryAggregate失败", err)
	}
	results := *abi.ConvertType(out[0], new([]Result)).(*[]Result)
	return results, nil
}

// PackViewCall 编码形如method(address)的单参数只读调用
func PackViewCall(signature string, user common.Address) []byte {
	selector := crypto.Keccak256([]byte(signature))[:4]
	return append(selector, common.LeftPadBytes(user.Bytes(), 32)...)
}

// UnpackUint256 解出单个uint256返回值
// 子调用失败或返回为空时视为"未知"，绝不能当作零余额
func UnpackUint256(res Result) (*big.Int, bool) {
	if !res.Success || len(res.ReturnData) < 32 {
		return nil, false
	}
	return new(big.Int).SetBytes(res.ReturnData[:32]), true
}
