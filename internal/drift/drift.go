package drift

import (
	"github.com/opsxjacky/Rebalance-live/internal/config"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
)

// Snapshot 原始持仓快照
type Snapshot struct {
	Positions  []types.Position
	TotalValue float64
}

// CurrentWeights 由原始持仓计算当前权重
//
// 总值为0时所有权重定义为0 (对应全现金起步场景, 不是错误)。
// 目标中未持有的标的权重为0而非缺失。
// 未跟踪持仓按策略处理: dilute时其市值仍计入分母, exclude时仅按跟踪标的总值归一化。
func CurrentWeights(target types.TargetAllocation, snapshot Snapshot, untrackedPolicy string) types.Weights {
	weights := make(types.Weights, len(target))
	for symbol := range target {
		weights[symbol] = 0.0
	}

	denominator := snapshot.TotalValue
	if untrackedPolicy == config.UntrackedExclude {
		denominator = 0.0
		for _, pos := range snapshot.Positions {
			if _, tracked := target[pos.Symbol]; tracked {
				denominator += pos.MarketValue
			}
		}
	}
	if denominator <= 0 {
		return weights
	}

	for _, pos := range snapshot.Positions {
		if _, tracked := target[pos.Symbol]; !tracked {
			continue
		}
		weights[pos.Symbol] = pos.MarketValue / denominator
	}
	return weights
}

// Calculate 计算漂移向量 (当前权重 - 目标权重, 正数=超配)
func Calculate(target types.TargetAllocation, current types.Weights) types.DriftVector {
	result := make(types.DriftVector, len(target))
	for symbol, targetWeight := range target {
		result[symbol] = current[symbol] - targetWeight
	}
	return result
}
