package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig `mapstructure:"database"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Chains    []ChainConfig  `mapstructure:"chains"`
	Points    PointsConfig   `mapstructure:"points"`
	Scanner   ScannerConfig  `mapstructure:"scanner"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	Name             string        `mapstructure:"name"`
	ChainID          uint64        `mapstructure:"chain_id"`
	RPCURL           string        `mapstructure:"rpc_url"`
	FallbackRPCURL   string        `mapstructure:"fallback_rpc_url"`
	FallbackAPIKey   string        `mapstructure:"fallback_api_key"`
	MulticallAddress string        `mapstructure:"multicall_address"`
	Scopes           []ScopeConfig `mapstructure:"scopes"`
	Pools            []PoolConfig  `mapstructure:"pools"`
	Enabled          bool          `mapstructure:"enabled"`
}

// ScopeConfig 定义一个扫描范围：一个合约及其监听的事件签名
type ScopeConfig struct {
	Key             string            `mapstructure:"key"`
	ContractAddress string            `mapstructure:"contract_address"`
	TokenAddress    string            `mapstructure:"token_address"`
	ProjectID       string            `mapstructure:"project_id"`
	Events          map[string]string `mapstructure:"events"`
}

type PoolConfig struct {
	ID              string  `mapstructure:"id"`
	ContractAddress string  `mapstructure:"contract_address"`
	Booster         float64 `mapstructure:"booster"`
}

type PointsConfig struct {
	PurchaseTiers    []PurchaseTier `mapstructure:"purchase_tiers"`
	BalanceTiers     []BalanceTier  `mapstructure:"balance_tiers"`
	StakingAPR       float64        `mapstructure:"staking_apr"`
	DayCount         int            `mapstructure:"day_count"`
	DefaultRefPct    float64        `mapstructure:"default_ref_percent"`
	BonusMultipliers map[string]float64 `mapstructure:"bonus_multipliers"`
	TokenPricesUSD   map[string]float64 `mapstructure:"token_prices_usd"`
}

// PurchaseTier 购买奖励档位：USD金额达到Threshold时使用Coefficient
type PurchaseTier struct {
	ThresholdUSD float64 `mapstructure:"threshold_usd"`
	Coefficient  float64 `mapstructure:"coefficient"`
}

// BalanceTier 质押余额档位：余额达到MinBalance时奖励乘以Coefficient
type BalanceTier struct {
	MinBalance  float64 `mapstructure:"min_balance"`
	Coefficient float64 `mapstructure:"coefficient"`
}

type ScannerConfig struct {
	WindowSize     int64 `mapstructure:"window_size"`
	SeedLookback   int64 `mapstructure:"seed_lookback"`
	ThrottleMillis int   `mapstructure:"throttle_millis"`
	TickSeconds    int   `mapstructure:"tick_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Scanner.WindowSize <= 0 || c.Scanner.WindowSize > 3000 {
		// 日志查询服务商的硬上限
		c.Scanner.WindowSize = 3000
	}
	if c.Scanner.SeedLookback <= 0 {
		c.Scanner.SeedLookback = 100_000
	}
	if c.Scanner.ThrottleMillis <= 0 {
		c.Scanner.ThrottleMillis = 200
	}
	if c.Scanner.TickSeconds <= 0 {
		c.Scanner.TickSeconds = 15
	}
	if c.Points.DayCount <= 0 {
		c.Points.DayCount = 365
	}
}

func (c *Config) GetChainConfig(chainID uint64) (*ChainConfig, error) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i], nil
		}
	}
	return nil, fmt.Errorf("chain config not found: %d", chainID)
}

func (c *Config) GetEnabledChains() []ChainConfig {
	var enabled []ChainConfig
	for _, chain := range c.Chains {
		if chain.Enabled {
			enabled = append(enabled, chain)
		}
	}
	return enabled
}
