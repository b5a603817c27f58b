package cost

import (
	"github.com/opsxjacky/Rebalance-live/internal/config"
)

// Model 交易成本模型
type Model struct {
	CommissionFixed float64 // 每笔固定佣金
	CommissionRate  float64 // 按金额比例佣金
	MaxCostRatio    float64 // 可接受的最大成本占比
}

// NewModel 创建成本模型
func NewModel(cfg config.CostsSection) *Model {
	return &Model{
		CommissionFixed: cfg.CommissionFixed,
		CommissionRate:  cfg.CommissionRate,
		MaxCostRatio:    cfg.MaxCostRatio,
	}
}

// MinTradeSize 推导成本可接受的最小交易金额
//
// 求解 (fixed + trade*rate) / trade = maxRatio:
//   trade = fixed / (maxRatio - rate)
// 无固定佣金或未设上限时返回0 (不构成约束)。
// 比例佣金超过上限时任何金额都不划算, 返回一个保守的高下限。
func (m *Model) MinTradeSize() float64 {
	if m.CommissionFixed <= 0 || m.MaxCostRatio <= 0 {
		return 0
	}
	denominator := m.MaxCostRatio - m.CommissionRate
	if denominator <= 0 {
		return 1000.0
	}
	return m.CommissionFixed / denominator
}

// EffectiveMinTrade 结合配置下限与成本推导下限
func (m *Model) EffectiveMinTrade(configured float64) float64 {
	derived := m.MinTradeSize()
	if derived > configured {
		return derived
	}
	return configured
}
