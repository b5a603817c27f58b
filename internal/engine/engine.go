package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opsxjacky/Rebalance-live/internal/broker"
	"github.com/opsxjacky/Rebalance-live/internal/config"
	"github.com/opsxjacky/Rebalance-live/internal/cost"
	"github.com/opsxjacky/Rebalance-live/internal/drift"
	"github.com/opsxjacky/Rebalance-live/internal/executor"
	"github.com/opsxjacky/Rebalance-live/internal/journal"
	"github.com/opsxjacky/Rebalance-live/internal/planner"
	"github.com/opsxjacky/Rebalance-live/internal/policy"
	"github.com/opsxjacky/Rebalance-live/internal/state"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"github.com/rs/zerolog"
)

// Engine 再平衡引擎, 串联一个完整周期:
// 熔断检查 -> 漂移计算 -> 决策 -> 订单规划 -> 执行 -> 对账 -> 状态更新
type Engine struct {
	cfg     *config.Config
	gateway broker.Gateway
	store   *state.Store
	lock    *state.Lock
	journal *journal.Journal
	exec    *executor.Executor
	costs   *cost.Model
	log     zerolog.Logger
	now     func() time.Time
}

// Deps 引擎依赖
type Deps struct {
	Config   *config.Config
	Gateway  broker.Gateway
	Store    *state.Store
	Lock     *state.Lock
	Journal  *journal.Journal // 可为nil, 此时不记流水
	Executor *executor.Executor
	Log      zerolog.Logger
	Now      func() time.Time // 可为nil, 默认time.Now
}

// New 创建引擎
func New(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config not set")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway not set")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store not set")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor not set")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:     deps.Config,
		gateway: deps.Gateway,
		store:   deps.Store,
		lock:    deps.Lock,
		journal: deps.Journal,
		exec:    deps.Executor,
		costs:   cost.NewModel(deps.Config.Costs),
		log:     deps.Log.With().Str("component", "engine").Logger(),
		now:     now,
	}, nil
}

// RunOptions 单次周期运行选项
type RunOptions struct {
	Operation string // 流水中的操作名, 如 "daily_check" / "rebalance"
	DryRun    bool   // 只计算并打印计划, 不触发执行
	Force     bool   // 跳过时间闸门与漂移阈值 (熔断器仍然生效)
}

// Run 运行一个完整的检查/再平衡周期
//
// 错误只在整个周期无意义时返回 (网关不可达、状态读写失败)。
// 策略性不执行(熔断/太早/在容差内)与单笔订单失败都是正常结果, 体现在报告中。
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*types.CycleReport, error) {
	if e.lock != nil {
		if err := e.lock.Acquire(ctx); err != nil {
			return nil, err
		}
		defer e.lock.Release()
	}

	report := &types.CycleReport{
		Timestamp: e.now(),
		DryRun:    opts.DryRun,
		Status:    types.CycleSkipped,
	}

	// 账户或持仓拉不到时整个周期无意义, 在任何订单之前中止;
	// 下一次调度独立重试, 周期本身不重试
	account, err := e.gateway.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot reach brokerage gateway: %w", err)
	}
	positions, err := e.gateway.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch positions: %w", err)
	}

	report.PortfolioValue = account.PortfolioValue

	params := policy.Params{
		DriftThreshold:   e.cfg.Rebalancing.DriftThreshold,
		MinDaysBetween:   e.cfg.Rebalancing.MinDaysBetween,
		MaxDailyLoss:     e.cfg.Risk.MaxDailyLoss,
		MaxDrawdownPause: e.cfg.Risk.MaxDrawdownPause,
		InitialCapital:   e.cfg.Risk.InitialCapital,
	}
	breaker := policy.CheckCircuitBreakers(account, params)

	target := e.cfg.TargetAllocation()
	snapshot := drift.Snapshot{Positions: positions, TotalValue: account.PortfolioValue}
	report.Weights = drift.CurrentWeights(target, snapshot, e.cfg.Rebalancing.UntrackedPolicy)
	report.Drift = drift.Calculate(target, report.Weights)
	e.logAllocation(target, report)

	lastRebalance, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	if opts.Force {
		report.Decision = types.Decision{Rebalance: true, Reason: "forced rebalance"}
		if breaker.Tripped {
			// 强制再平衡也不得在风险事件期间交易
			report.Decision = types.Decision{
				Reason: fmt.Sprintf("circuit breaker triggered: %s", breaker.Reason),
			}
		}
	} else {
		report.Decision = policy.Decide(report.Drift, lastRebalance, report.Timestamp, breaker, params)
	}
	e.log.Info().
		Bool("rebalance", report.Decision.Rebalance).
		Str("reason", report.Decision.Reason).
		Msg("Rebalance check")

	if !report.Decision.Rebalance {
		return report, nil
	}

	minTrade := e.costs.EffectiveMinTrade(e.cfg.Rebalancing.MinTradeUSD)
	report.Plan = planner.Plan(target, report.Weights, account.PortfolioValue, minTrade)
	e.logPlan(report.Plan)

	if report.Plan.Active() == 0 {
		// 所有意图都被最小交易额过滤: 什么都没纠正, 不更新时间戳
		e.log.Info().Msg("All intents below minimum trade size, nothing to execute")
		return report, nil
	}

	if opts.DryRun {
		e.log.Info().Msg("Dry run - no orders executed")
		return report, nil
	}

	cycleID := e.journalBegin(opts.Operation)

	report.Outcomes = e.exec.Execute(ctx, report.Plan)
	for _, outcome := range report.Outcomes {
		e.journalOrder(cycleID, outcome)
	}

	report.Status = types.ClassifyCycle(report.Outcomes)
	report.Reconciliation = Reconcile(report.Plan, report.Outcomes)
	e.log.Info().Str("status", string(report.Status)).Msg("Reconciliation:\n" + report.Reconciliation)

	e.journalComplete(cycleID, report.Status, report.Reconciliation)

	// 关键不变式: 只有全部订单成功才更新时间戳;
	// 部分失败时保留旧时间戳, 让下一次检查重试而不是当作已完成
	if report.Status == types.CycleComplete {
		if err := e.store.Save(report.Timestamp); err != nil {
			return report, fmt.Errorf("rebalance complete but state update failed: %w", err)
		}
		e.log.Info().Msg("Rebalance COMPLETE - all orders succeeded")
	} else {
		e.log.Warn().
			Str("status", string(report.Status)).
			Msg("Rebalance did not complete - last-rebalance timestamp left unchanged")
	}

	return report, nil
}

// logAllocation 打印当前配置与漂移
func (e *Engine) logAllocation(target types.TargetAllocation, report *types.CycleReport) {
	for _, symbol := range target.Symbols() {
		e.log.Info().
			Str("symbol", symbol).
			Float64("current", report.Weights[symbol]).
			Float64("target", target[symbol]).
			Float64("drift", report.Drift[symbol]).
			Msg("Allocation")
	}
}

// logPlan 打印订单计划
func (e *Engine) logPlan(plan types.OrderIntents) {
	totalBuys, totalSells := 0.0, 0.0
	symbols := make([]string, 0, len(plan))
	for s := range plan {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		amount := plan[symbol]
		switch {
		case amount > 0:
			totalBuys += amount
			e.log.Info().Str("symbol", symbol).Msgf("Plan: BUY $%.2f", amount)
		case amount < 0:
			totalSells += -amount
			e.log.Info().Str("symbol", symbol).Msgf("Plan: SELL $%.2f", -amount)
		default:
			e.log.Info().Str("symbol", symbol).Msg("Plan: no change")
		}
	}
	e.log.Info().Msgf("Total to sell: $%.2f, total to buy: $%.2f", totalSells, totalBuys)
}

// Reconcile 生成逐标的对账报告: 意图 vs 实际执行
func Reconcile(plan types.OrderIntents, outcomes []types.OrderOutcome) string {
	byInstrument := make(map[string]types.OrderOutcome, len(outcomes))
	succeeded, failed := 0, 0
	for _, o := range outcomes {
		byInstrument[o.Symbol] = o
		if o.Status == types.OrderSucceeded {
			succeeded++
		} else {
			failed++
		}
	}

	symbols := make([]string, 0, len(plan))
	for s := range plan {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	lines := []string{fmt.Sprintf("summary: %d succeeded, %d failed", succeeded, failed)}
	for _, symbol := range symbols {
		intent := plan[symbol]
		if intent == 0 {
			lines = append(lines, fmt.Sprintf("%s: no order needed", symbol))
			continue
		}
		side := types.SideBuy
		if intent < 0 {
			side = types.SideSell
		}
		outcome, executed := byInstrument[symbol]
		switch {
		case !executed:
			lines = append(lines, fmt.Sprintf("%s: NOT EXECUTED (intended %s $%.2f)",
				symbol, side, math.Abs(intent)))
		case outcome.Status == types.OrderSucceeded:
			lines = append(lines, fmt.Sprintf("%s: ok - %s $%.2f (order %s)",
				symbol, outcome.Side, outcome.Notional, outcome.OrderID))
		default:
			lines = append(lines, fmt.Sprintf("%s: FAILED - %s $%.2f after %d retries: %s",
				symbol, outcome.Side, outcome.Notional, outcome.Retries, outcome.Error))
		}
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) journalBegin(operation string) string {
	if e.journal == nil {
		return ""
	}
	if operation == "" {
		operation = "rebalance"
	}
	id, err := e.journal.Begin(operation)
	if err != nil {
		// 流水失败只告警, 不中断交易
		e.log.Warn().Err(err).Msg("Failed to begin journal cycle")
		return ""
	}
	return id
}

func (e *Engine) journalOrder(cycleID string, outcome types.OrderOutcome) {
	if e.journal == nil || cycleID == "" {
		return
	}
	if err := e.journal.RecordOrder(cycleID, outcome); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record order in journal")
	}
}

func (e *Engine) journalComplete(cycleID string, status types.CycleStatus, notes string) {
	if e.journal == nil || cycleID == "" {
		return
	}
	if err := e.journal.Complete(cycleID, status, notes); err != nil {
		e.log.Warn().Err(err).Msg("Failed to complete journal cycle")
	}
}
