package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/opsxjacky/Rebalance-live/pkg/types"
)

// Params 决策参数
type Params struct {
	DriftThreshold   float64
	MinDaysBetween   int
	MaxDailyLoss     float64
	MaxDrawdownPause float64
	InitialCapital   float64 // 回撤熔断基准, 0表示禁用
}

// BreakerStatus 熔断器状态
type BreakerStatus struct {
	Tripped bool
	Reason  string
}

// CheckCircuitBreakers 检查账户级熔断器
//
// 日内亏损: (equity - last_equity) / last_equity, last_equity为0时无法评估, 视为未触发。
// 回撤: 相对初始资金的累计回撤。
func CheckCircuitBreakers(account types.Account, params Params) BreakerStatus {
	if account.LastEquity > 0 {
		dailyReturn := (account.Equity - account.LastEquity) / account.LastEquity
		if params.MaxDailyLoss > 0 && dailyReturn <= -params.MaxDailyLoss {
			return BreakerStatus{
				Tripped: true,
				Reason: fmt.Sprintf("daily loss %.1f%% exceeds max %.1f%%",
					-dailyReturn*100, params.MaxDailyLoss*100),
			}
		}
	}

	if params.InitialCapital > 0 && params.MaxDrawdownPause > 0 {
		drawdown := (params.InitialCapital - account.Equity) / params.InitialCapital
		if drawdown >= params.MaxDrawdownPause {
			return BreakerStatus{
				Tripped: true,
				Reason: fmt.Sprintf("drawdown %.1f%% exceeds pause threshold %.1f%%",
					drawdown*100, params.MaxDrawdownPause*100),
			}
		}
	}

	return BreakerStatus{Reason: "all circuit breakers clear"}
}

// Decide 判断是否需要再平衡
//
// 检查顺序固定: 熔断器优先于一切, 其次时间闸门, 最后漂移阈值。
// lastRebalance 为nil表示从未再平衡过, 时间闸门自动满足。
// 所有正常业务结果都以Decision返回, 不产生错误。
func Decide(d types.DriftVector, lastRebalance *time.Time, now time.Time, breaker BreakerStatus, params Params) types.Decision {
	if breaker.Tripped {
		return types.Decision{
			Reason: fmt.Sprintf("circuit breaker triggered: %s", breaker.Reason),
		}
	}

	if lastRebalance != nil {
		daysSince := int(now.Sub(*lastRebalance).Hours() / 24)
		if daysSince < params.MinDaysBetween {
			return types.Decision{
				Reason: fmt.Sprintf("only %d days since last rebalance (min: %d)",
					daysSince, params.MinDaysBetween),
			}
		}
	}

	symbol, maxDrift := d.MaxAbs()
	if math.Abs(maxDrift) > params.DriftThreshold {
		return types.Decision{
			Rebalance: true,
			Reason: fmt.Sprintf("drift %.1f%% on %s exceeds threshold %.1f%%",
				math.Abs(maxDrift)*100, symbol, params.DriftThreshold*100),
		}
	}

	return types.Decision{
		Reason: fmt.Sprintf("all positions within %.1f%% of target (max drift: %.1f%% on %s)",
			params.DriftThreshold*100, math.Abs(maxDrift)*100, symbol),
	}
}
