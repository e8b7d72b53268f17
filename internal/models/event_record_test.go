package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRegistrationKeyForRegistered(t *testing.T) {
	record := EventRecord{
		EventType:       EventRegistered,
		UserAddress:     "0xaaaa000000000000000000000000000000000001",
		ContractScopeID: "presale-v2",
		TxnHash:         "0x01",
	}

	record.SetRegistrationKey()

	require.NotNil(t, record.RegistrationKey)
	assert.Equal(t, "presale-v2:0xaaaa000000000000000000000000000000000001", *record.RegistrationKey)

	// same user registering in another scope dedupes independently
	other := EventRecord{
		EventType:       EventRegistered,
		UserAddress:     record.UserAddress,
		ContractScopeID: "pool-alpha",
	}
	other.SetRegistrationKey()
	require.NotNil(t, other.RegistrationKey)
	assert.NotEqual(t, *record.RegistrationKey, *other.RegistrationKey)
}

func TestSetRegistrationKeyOnlyForRegistered(t *testing.T) {
	for _, eventType := range []EventType{EventTokensBought, EventStaked, EventUnstaked, EventClaimRewards} {
		record := EventRecord{
			EventType:       eventType,
			UserAddress:     "0xaaaa000000000000000000000000000000000001",
			ContractScopeID: "presale-v2",
		}
		record.SetRegistrationKey()
		assert.Nil(t, record.RegistrationKey, "event type %s", eventType)
	}
}
