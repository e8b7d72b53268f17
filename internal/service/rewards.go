package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"loyalty-engine/internal/config"
)

// PurchaseBonus 计算购买奖励
// 按USD金额落入的档位取系数，再乘以项目加成，结果保留两位小数
// 纯函数，不触碰账本
func PurchaseBonus(usdAmount decimal.Decimal, tiers []config.PurchaseTier, projectMultiplier float64) decimal.Decimal {
	if !usdAmount.IsPositive() || len(tiers) == 0 {
		return decimal.Zero
	}

	sorted := make([]config.PurchaseTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ThresholdUSD < sorted[j].ThresholdUSD
	})

	coefficient := 0.0
	for _, tier := range sorted {
		if usdAmount.GreaterThanOrEqual(decimal.NewFromFloat(tier.ThresholdUSD)) {
			coefficient = tier.Coefficient
		}
	}
	if coefficient <= 0 {
		return decimal.Zero
	}

	multiplier := projectMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	return usdAmount.
		Mul(decimal.NewFromFloat(coefficient)).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2)
}

// BalanceTierCoefficient 按质押余额档位取奖励系数，未命中任何档位时为1
func BalanceTierCoefficient(balance decimal.Decimal, tiers []config.BalanceTier) float64 {
	sorted := make([]config.BalanceTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinBalance < sorted[j].MinBalance
	})

	coefficient := 1.0
	for _, tier := range sorted {
		if balance.GreaterThanOrEqual(decimal.NewFromFloat(tier.MinBalance)) {
			coefficient = tier.Coefficient
		}
	}
	return coefficient
}

// StakingDailyReward 计算单日质押奖励
// 年化 = 余额 × APR% × 池加成 × 余额档位系数，按天数折算到单日
func StakingDailyReward(balance decimal.Decimal, apr, poolBooster, tierCoefficient float64, dayCount int) decimal.Decimal {
	if !balance.IsPositive() || apr <= 0 {
		return decimal.Zero
	}
	if poolBooster <= 0 {
		poolBooster = 1
	}
	if tierCoefficient <= 0 {
		tierCoefficient = 1
	}
	if dayCount <= 0 {
		dayCount = 365
	}

	annual := balance.
		Mul(decimal.NewFromFloat(apr)).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromFloat(poolBooster)).
		Mul(decimal.NewFromFloat(tierCoefficient))

	return annual.Div(decimal.NewFromInt(int64(dayCount))).Round(2)
}
