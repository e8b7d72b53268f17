package blockchain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"loyalty-engine/internal/config"
	"loyalty-engine/internal/models"
	"loyalty-engine/pkg/logger"
)

var zeroAddress = common.Address{}

// Parser 将原始日志规整为类型化的事件记录
// 事件签名来自范围配置，未知topic的日志直接跳过
type Parser struct {
	chainID uint64
	scope   config.ScopeConfig
	topics  map[common.Hash]models.EventType
}

func NewParser(chainID uint64, scope config.ScopeConfig) *Parser {
	topics := make(map[common.Hash]models.EventType, len(scope.Events))
	for name, signature := range scope.Events {
		eventType, ok := eventTypeByName(name)
		if !ok {
			logger.WithFields(map[string]interface{}{
				"scope": scope.Key,
				"event": name,
			}).Warn("未知事件类型，忽略")
			continue
		}
		topics[crypto.Keccak256Hash([]byte(signature))] = eventType
	}
	return &Parser{chainID: chainID, scope: scope, topics: topics}
}

func eventTypeByName(name string) (models.EventType, bool) {
	switch models.EventType(name) {
	case models.EventRegistered, models.EventTokensBought, models.EventStaked,
		models.EventUnstaked, models.EventClaimRewards:
		return models.EventType(name), true
	}
	return "", false
}

// Topics 返回该范围监听的全部topic0
func (p *Parser) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(p.topics))
	for topic := range p.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Parse 解析单条日志，无法识别时返回nil
func (p *Parser) Parse(log types.Log) *models.EventRecord {
	if len(log.Topics) < 2 {
		return nil
	}
	eventType, ok := p.topics[log.Topics[0]]
	if !ok {
		return nil
	}

	user := common.BytesToAddress(log.Topics[1].Bytes())
	record := &models.EventRecord{
		EventType:       eventType,
		UserAddress:     strings.ToLower(user.Hex()),
		TokenAddress:    strings.ToLower(p.scope.TokenAddress),
		ContractScopeID: p.scope.Key,
		ChainID:         p.chainID,
		TxnHash:         strings.ToLower(log.TxHash.Hex()),
		BlockNumber:     int64(log.BlockNumber),
		Extra:           models.JSONB{},
	}

	amount := new(big.Int)
	if len(log.Data) >= 32 {
		amount.SetBytes(log.Data[:32])
	} else if len(log.Data) > 0 {
		amount.SetBytes(log.Data)
	}

	switch eventType {
	case models.EventRegistered:
		if len(log.Topics) >= 3 {
			referrer := common.BytesToAddress(log.Topics[2].Bytes())
			if referrer != zeroAddress {
				record.Extra["referrer"] = strings.ToLower(referrer.Hex())
			}
		}
	case models.EventTokensBought:
		if len(log.Topics) >= 3 {
			token := common.BytesToAddress(log.Topics[2].Bytes())
			if token != zeroAddress {
				record.TokenAddress = strings.ToLower(token.Hex())
			}
		}
		record.Extra["amount"] = amount.String()
	default:
		record.Extra["amount"] = amount.String()
	}

	return record
}
