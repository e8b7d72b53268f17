package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: 127.0.0.1
chains:
  - name: bsc
    chain_id: 56
    rpc_url: https://bsc.example
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(3000), cfg.Scanner.WindowSize)
	assert.Equal(t, int64(100000), cfg.Scanner.SeedLookback)
	assert.Equal(t, 200, cfg.Scanner.ThrottleMillis)
	assert.Equal(t, 15, cfg.Scanner.TickSeconds)
	assert.Equal(t, 365, cfg.Points.DayCount)
}

func TestLoadCapsWindowSize(t *testing.T) {
	path := writeConfig(t, `
scanner:
  window_size: 50000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), cfg.Scanner.WindowSize)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
chains:
  - name: bsc
    chain_id: 56
    rpc_url: https://primary.example
    fallback_rpc_url: https://fallback.example
    multicall_address: "0x5ba1e12693dc8f9c48aad8770482f4739beed696"
    enabled: true
    scopes:
      - key: presale-v2
        contract_address: "0x01"
        token_address: "0x02"
        project_id: presale
        events:
          tokens_bought: "TokensBought(address,address,uint256)"
    pools:
      - id: pool-alpha
        contract_address: "0x03"
        booster: 1.5
  - name: old
    chain_id: 1
    enabled: false
points:
  default_ref_percent: 5
  staking_apr: 12
  purchase_tiers:
    - threshold_usd: 50
      coefficient: 0.05
  token_prices_usd:
    "0x02": 0.04
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	chain, err := cfg.GetChainConfig(56)
	require.NoError(t, err)
	assert.Equal(t, "bsc", chain.Name)
	require.Len(t, chain.Scopes, 1)
	assert.Equal(t, "TokensBought(address,address,uint256)", chain.Scopes[0].Events["tokens_bought"])
	require.Len(t, chain.Pools, 1)
	assert.Equal(t, 1.5, chain.Pools[0].Booster)

	enabled := cfg.GetEnabledChains()
	require.Len(t, enabled, 1)
	assert.Equal(t, uint64(56), enabled[0].ChainID)

	_, err = cfg.GetChainConfig(999)
	assert.Error(t, err)

	assert.Equal(t, 0.04, cfg.Points.TokenPricesUSD["0x02"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "app", Password: "pw", DBName: "loyalty"}
	assert.Equal(t, "app:pw@tcp(127.0.0.1:3306)/loyalty?charset=utf8mb4&parseTime=True&loc=Local", d.DSN())
}
