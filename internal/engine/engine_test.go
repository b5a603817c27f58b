package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsxjacky/Rebalance-live/internal/broker"
	"github.com/opsxjacky/Rebalance-live/internal/config"
	"github.com/opsxjacky/Rebalance-live/internal/executor"
	"github.com/opsxjacky/Rebalance-live/internal/state"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway 可脚本化的券商网关
type fakeGateway struct {
	account     types.Account
	accountErr  error
	positions   []types.Position
	failSymbols map[string]error
	submissions []string
}

func (f *fakeGateway) GetAccount(ctx context.Context) (types.Account, error) {
	if f.accountErr != nil {
		return types.Account{}, f.accountErr
	}
	return f.account, nil
}

func (f *fakeGateway) GetPositions(ctx context.Context) ([]types.Position, error) {
	return f.positions, nil
}

func (f *fakeGateway) GetLatestQuote(ctx context.Context, symbol string, side types.Side) (float64, error) {
	return 100.0, nil
}

func (f *fakeGateway) SubmitMarketOrder(ctx context.Context, symbol string, side types.Side, notional float64) (types.Order, error) {
	f.submissions = append(f.submissions, string(side)+":"+symbol)
	if err := f.failSymbols[symbol]; err != nil {
		return types.Order{}, err
	}
	return types.Order{ID: "order-" + symbol, Symbol: symbol, Side: side, Notional: notional}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Allocation: map[string]float64{"VTI": 0.40, "TLT": 0.30, "GLD": 0.20, "DBC": 0.10},
		Rebalancing: config.RebalancingSection{
			DriftThreshold:  0.10,
			MinDaysBetween:  30,
			MinTradeUSD:     100,
			UntrackedPolicy: config.UntrackedDilute,
		},
		Risk: config.RiskSection{MaxDailyLoss: 0.05, MaxDrawdownPause: 0.20},
	}
}

var testNow = time.Date(2026, 8, 21, 15, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, gw *fakeGateway) (*Engine, *state.Store) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	eng, err := New(Deps{
		Config:   testConfig(),
		Gateway:  gw,
		Store:    store,
		Executor: executor.New(gw, zerolog.Nop(), executor.WithInitialBackoff(time.Millisecond)),
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return eng, store
}

func allCashGateway() *fakeGateway {
	return &fakeGateway{
		account: types.Account{Cash: 17000, PortfolioValue: 17000, Equity: 17000, LastEquity: 17000},
	}
}

func TestRun_AllCashEndToEnd(t *testing.T) {
	gw := allCashGateway()
	eng, store := newTestEngine(t, gw)

	report, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check"})
	require.NoError(t, err)

	// 全现金起步: 每个标的都欠配, 必然触发再平衡
	assert.True(t, report.Decision.Rebalance)
	assert.InDelta(t, 6800, report.Plan["VTI"], 0.01)
	assert.InDelta(t, 5100, report.Plan["TLT"], 0.01)
	assert.InDelta(t, 3400, report.Plan["GLD"], 0.01)
	assert.InDelta(t, 1700, report.Plan["DBC"], 0.01)

	// 没有卖出腿, 直接进入买入
	assert.Equal(t, []string{"buy:DBC", "buy:GLD", "buy:TLT", "buy:VTI"}, gw.submissions)

	require.Equal(t, types.CycleComplete, report.Status)
	last, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, last, "complete cycle must persist the timestamp")
	assert.True(t, last.Equal(testNow))
}

func TestRun_PartialFailureKeepsTimestamp(t *testing.T) {
	gw := allCashGateway()
	gw.failSymbols = map[string]error{
		"DBC": &broker.APIError{StatusCode: 422, Message: "insufficient buying power"},
	}
	eng, store := newTestEngine(t, gw)

	previous := testNow.AddDate(0, 0, -60)
	require.NoError(t, store.Save(previous))

	report, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check"})
	require.NoError(t, err, "per-order failures must not surface as errors")

	assert.Equal(t, types.CyclePartial, report.Status)
	assert.Contains(t, report.Reconciliation, "DBC: FAILED")
	assert.Contains(t, report.Reconciliation, "3 succeeded, 1 failed")

	// 关键不变式: 部分失败不更新时间戳, 下次检查自动重试
	last, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(previous), "partial cycle must leave the timestamp unchanged")
}

func TestRun_DryRunNeverSubmits(t *testing.T) {
	gw := allCashGateway()
	eng, store := newTestEngine(t, gw)

	report, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check", DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.Decision.Rebalance)
	assert.InDelta(t, 6800, report.Plan["VTI"], 0.01)
	assert.Empty(t, gw.submissions)
	assert.Equal(t, types.CycleSkipped, report.Status)

	last, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRun_WithinToleranceDoesNothing(t *testing.T) {
	gw := &fakeGateway{
		account: types.Account{PortfolioValue: 10000, Equity: 10000, LastEquity: 10000},
		positions: []types.Position{
			{Symbol: "VTI", MarketValue: 4000},
			{Symbol: "TLT", MarketValue: 3000},
			{Symbol: "GLD", MarketValue: 2000},
			{Symbol: "DBC", MarketValue: 1000},
		},
	}
	eng, _ := newTestEngine(t, gw)

	report, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check"})
	require.NoError(t, err)

	assert.False(t, report.Decision.Rebalance)
	assert.Contains(t, report.Decision.Reason, "within")
	assert.Empty(t, gw.submissions)
	assert.Equal(t, types.CycleSkipped, report.Status)
}

func TestRun_TimeGateBlocksDespiteDrift(t *testing.T) {
	gw := allCashGateway()
	eng, store := newTestEngine(t, gw)
	require.NoError(t, store.Save(testNow.AddDate(0, 0, -10)))

	report, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check"})
	require.NoError(t, err)

	assert.False(t, report.Decision.Rebalance)
	assert.Contains(t, report.Decision.Reason, "10 days")
	assert.Empty(t, gw.submissions)
}

func TestRun_ForceBypassesGatesButNotBreaker(t *testing.T) {
	gw := allCashGateway()
	eng, store := newTestEngine(t, gw)
	require.NoError(t, store.Save(testNow.AddDate(0, 0, -10)))

	// --force 跳过时间闸门
	report, err := eng.Run(context.Background(), RunOptions{Operation: "rebalance", Force: true})
	require.NoError(t, err)
	assert.True(t, report.Decision.Rebalance)
	assert.Equal(t, types.CycleComplete, report.Status)

	// 熔断触发时连--force也不交易
	gw2 := allCashGateway()
	gw2.account.Equity = 15000
	gw2.account.LastEquity = 17000
	eng2, _ := newTestEngine(t, gw2)

	report2, err := eng2.Run(context.Background(), RunOptions{Operation: "rebalance", Force: true})
	require.NoError(t, err)
	assert.False(t, report2.Decision.Rebalance)
	assert.Contains(t, report2.Decision.Reason, "circuit breaker")
	assert.Empty(t, gw2.submissions)
}

func TestRun_BreakerBlocksDailyCheck(t *testing.T) {
	gw := allCashGateway()
	gw.account.Equity = 15000 // 日内-11.8%, 超过5%熔断线
	gw.account.LastEquity = 17000
	eng, _ := newTestEngine(t, gw)

	report, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check"})
	require.NoError(t, err)

	assert.False(t, report.Decision.Rebalance)
	assert.Contains(t, report.Decision.Reason, "circuit breaker")
	assert.Empty(t, gw.submissions)
}

func TestRun_GatewayUnreachableAbortsCycle(t *testing.T) {
	gw := &fakeGateway{accountErr: errors.New("connection refused")}
	eng, store := newTestEngine(t, gw)

	_, err := eng.Run(context.Background(), RunOptions{Operation: "daily_check"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot reach brokerage gateway")

	last, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestReconcile_ItemizesEveryIntent(t *testing.T) {
	plan := types.OrderIntents{"VTI": 2000, "TLT": -1500, "GLD": 0}
	outcomes := []types.OrderOutcome{
		{Symbol: "TLT", Side: types.SideSell, Notional: 1500, Status: types.OrderSucceeded, OrderID: "t1"},
		{Symbol: "VTI", Side: types.SideBuy, Notional: 2000, Status: types.OrderFailed, Error: "timeout", Retries: 3},
	}

	notes := Reconcile(plan, outcomes)

	assert.Contains(t, notes, "1 succeeded, 1 failed")
	assert.Contains(t, notes, "GLD: no order needed")
	assert.Contains(t, notes, "TLT: ok")
	assert.Contains(t, notes, "VTI: FAILED")
	assert.Contains(t, notes, "3 retries")
}
