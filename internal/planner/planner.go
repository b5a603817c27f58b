package planner

import (
	"math"

	"github.com/opsxjacky/Rebalance-live/pkg/types"
)

// Plan 计算纠正漂移所需的订单意图
//
// 对每个目标标的: 订单金额 = 总值*目标权重 - 总值*当前权重。
// 绝对值低于minTrade的订单显式置0并保留在结果中 (过滤而非舍入,
// 被过滤的金额不会重新分配到其他标的)。
func Plan(target types.TargetAllocation, current types.Weights, totalValue, minTrade float64) types.OrderIntents {
	intents := make(types.OrderIntents, len(target))

	for _, symbol := range target.Symbols() {
		targetValue := totalValue * target[symbol]
		currentValue := totalValue * current[symbol]

		amount := targetValue - currentValue
		if math.Abs(amount) < minTrade {
			amount = 0.0
		}
		intents[symbol] = amount
	}

	return intents
}
