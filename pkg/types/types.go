package types

import (
	"math"
	"sort"
	"time"
)

// TargetAllocation 目标配置 (symbol -> 目标权重, 总和应为1.0)
type TargetAllocation map[string]float64

// Sum 权重总和
func (a TargetAllocation) Sum() float64 {
	total := 0.0
	for _, w := range a {
		total += w
	}
	return total
}

// Symbols 按字典序返回所有标的
func (a TargetAllocation) Symbols() []string {
	symbols := make([]string, 0, len(a))
	for s := range a {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Weights 当前权重快照 (symbol -> 当前权重)
type Weights map[string]float64

// DriftVector 漂移向量 (symbol -> 当前权重 - 目标权重, 正数=超配)
type DriftVector map[string]float64

// MaxAbs 返回绝对漂移最大的标的及其漂移值 (并列时取字典序最小的标的)
func (d DriftVector) MaxAbs() (string, float64) {
	symbols := make([]string, 0, len(d))
	for s := range d {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	maxSymbol := ""
	maxDrift := 0.0
	for _, s := range symbols {
		if maxSymbol == "" || math.Abs(d[s]) > math.Abs(maxDrift) {
			maxSymbol = s
			maxDrift = d[s]
		}
	}
	return maxSymbol, maxDrift
}

// Account 券商账户概要
type Account struct {
	Cash           float64
	PortfolioValue float64
	Equity         float64
	LastEquity     float64 // 前一交易日收盘权益
}

// Position 当前持仓
type Position struct {
	Symbol      string
	MarketValue float64
}

// Side 交易方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderIntents 订单意图 (symbol -> 带符号名义金额, 正数=买入, 负数=卖出)
// 被最小交易额过滤的标的保留为0, 以区分"已评估无操作"与"未跟踪"
type OrderIntents map[string]float64

// SellSymbols 按字典序返回所有卖出标的
func (o OrderIntents) SellSymbols() []string {
	return o.filter(func(v float64) bool { return v < 0 })
}

// BuySymbols 按字典序返回所有买入标的
func (o OrderIntents) BuySymbols() []string {
	return o.filter(func(v float64) bool { return v > 0 })
}

// Active 返回非零意图数量
func (o OrderIntents) Active() int {
	n := 0
	for _, v := range o {
		if v != 0 {
			n++
		}
	}
	return n
}

func (o OrderIntents) filter(keep func(float64) bool) []string {
	symbols := make([]string, 0, len(o))
	for s, v := range o {
		if keep(v) {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Order 券商已受理的订单
type Order struct {
	ID       string
	Symbol   string
	Side     Side
	Notional float64
	Status   string
}

// OrderStatus 单笔订单的终态
type OrderStatus string

const (
	OrderSucceeded OrderStatus = "succeeded"
	OrderFailed    OrderStatus = "failed"
)

// OrderOutcome 单笔订单的执行结果
type OrderOutcome struct {
	Symbol   string
	Side     Side
	Notional float64 // 请求的名义金额 (绝对值)
	Status   OrderStatus
	OrderID  string
	Error    string
	Retries  int
}

// CycleStatus 一次再平衡周期的整体状态
type CycleStatus string

const (
	CycleComplete CycleStatus = "complete" // 全部订单成功
	CyclePartial  CycleStatus = "partial"  // 部分成功
	CycleFailed   CycleStatus = "failed"   // 全部失败
	CycleSkipped  CycleStatus = "skipped"  // 无可执行订单
)

// ClassifyCycle 根据订单结果分类周期状态
func ClassifyCycle(outcomes []OrderOutcome) CycleStatus {
	if len(outcomes) == 0 {
		return CycleSkipped
	}
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == OrderSucceeded {
			succeeded++
		}
	}
	switch succeeded {
	case len(outcomes):
		return CycleComplete
	case 0:
		return CycleFailed
	default:
		return CyclePartial
	}
}

// Decision 再平衡决策结果
type Decision struct {
	Rebalance bool
	Reason    string
}

// CycleReport 一次检查周期的完整报告
type CycleReport struct {
	Timestamp      time.Time
	PortfolioValue float64
	Weights        Weights
	Drift          DriftVector
	Decision       Decision
	Plan           OrderIntents
	Outcomes       []OrderOutcome
	Status         CycleStatus
	Reconciliation string
	DryRun         bool
}
