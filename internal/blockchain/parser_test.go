package blockchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalty-engine/internal/config"
	"loyalty-engine/internal/models"
)

var testScope = config.ScopeConfig{
	Key:             "presale-v2",
	ContractAddress: "0x1111111111111111111111111111111111111111",
	TokenAddress:    "0x2222222222222222222222222222222222222222",
	ProjectID:       "presale",
	Events: map[string]string{
		"registered":    "Registered(address,address)",
		"tokens_bought": "TokensBought(address,address,uint256)",
		"staked":        "Staked(address,uint256)",
	},
}

func topicHash(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func addressTopic(hex string) common.Hash {
	return common.BytesToHash(common.HexToAddress(hex).Bytes())
}

func uint256Data(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func TestParserTopicsCoverConfiguredEvents(t *testing.T) {
	parser := NewParser(56, testScope)
	topics := parser.Topics()
	assert.Len(t, topics, 3)
	assert.Contains(t, topics, topicHash("TokensBought(address,address,uint256)"))
}

func TestParseTokensBought(t *testing.T) {
	parser := NewParser(56, testScope)

	amount := new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	log := types.Log{
		Topics: []common.Hash{
			topicHash("TokensBought(address,address,uint256)"),
			addressTopic("0xAAAA000000000000000000000000000000000001"),
			addressTopic("0x3333333333333333333333333333333333333333"),
		},
		Data:        uint256Data(amount),
		TxHash:      common.HexToHash("0xDEAD"),
		BlockNumber: 400123,
	}

	record := parser.Parse(log)
	require.NotNil(t, record)
	assert.Equal(t, models.EventTokensBought, record.EventType)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", record.UserAddress)
	// 购买事件从topic带出实际支付代币
	assert.Equal(t, "0x3333333333333333333333333333333333333333", record.TokenAddress)
	assert.Equal(t, "presale-v2", record.ContractScopeID)
	assert.Equal(t, uint64(56), record.ChainID)
	assert.Equal(t, int64(400123), record.BlockNumber)
	assert.Equal(t, amount.String(), record.Extra["amount"])
}

func TestParseRegisteredWithReferrer(t *testing.T) {
	parser := NewParser(56, testScope)

	log := types.Log{
		Topics: []common.Hash{
			topicHash("Registered(address,address)"),
			addressTopic("0xAAAA000000000000000000000000000000000001"),
			addressTopic("0xBBBB000000000000000000000000000000000002"),
		},
		TxHash: common.HexToHash("0x01"),
	}

	record := parser.Parse(log)
	require.NotNil(t, record)
	assert.Equal(t, models.EventRegistered, record.EventType)
	assert.Equal(t, "0xbbbb000000000000000000000000000000000002", record.Extra["referrer"])
}

func TestParseRegisteredZeroReferrer(t *testing.T) {
	parser := NewParser(56, testScope)

	log := types.Log{
		Topics: []common.Hash{
			topicHash("Registered(address,address)"),
			addressTopic("0xAAAA000000000000000000000000000000000001"),
			{},
		},
		TxHash: common.HexToHash("0x02"),
	}

	record := parser.Parse(log)
	require.NotNil(t, record)
	_, hasReferrer := record.Extra["referrer"]
	assert.False(t, hasReferrer)
}

func TestParseStakedUsesScopeToken(t *testing.T) {
	parser := NewParser(56, testScope)

	log := types.Log{
		Topics: []common.Hash{
			topicHash("Staked(address,uint256)"),
			addressTopic("0xAAAA000000000000000000000000000000000001"),
		},
		Data:   uint256Data(big.NewInt(500)),
		TxHash: common.HexToHash("0x03"),
	}

	record := parser.Parse(log)
	require.NotNil(t, record)
	assert.Equal(t, models.EventStaked, record.EventType)
	assert.Equal(t, testScope.TokenAddress, record.TokenAddress)
	assert.Equal(t, "500", record.Extra["amount"])
}

func TestParseSkipsUnknownAndMalformed(t *testing.T) {
	parser := NewParser(56, testScope)

	// 未监听的topic
	assert.Nil(t, parser.Parse(types.Log{
		Topics: []common.Hash{
			topicHash("Transfer(address,address,uint256)"),
			addressTopic("0x01"),
		},
	}))

	// 缺少user topic
	assert.Nil(t, parser.Parse(types.Log{
		Topics: []common.Hash{topicHash("Staked(address,uint256)")},
	}))
}
