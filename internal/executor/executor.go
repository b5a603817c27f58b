package executor

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opsxjacky/Rebalance-live/internal/broker"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
)

// Executor 订单执行序列器
//
// 关键约束: 所有卖出订单必须先于任何买入订单到达终态, 以释放买入所需现金。
// 组内按标的字典序执行以保证确定性。
type Executor struct {
	gateway        broker.Gateway
	log            zerolog.Logger
	maxRetries     uint64
	initialBackoff time.Duration
}

// Option 执行器选项
type Option func(*Executor)

// WithMaxRetries 设置单笔订单最大重试次数
func WithMaxRetries(n uint64) Option {
	return func(e *Executor) { e.maxRetries = n }
}

// WithInitialBackoff 设置首次重试等待时间
func WithInitialBackoff(d time.Duration) Option {
	return func(e *Executor) { e.initialBackoff = d }
}

// New 创建执行器
func New(gateway broker.Gateway, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		gateway:        gateway,
		log:            log.With().Str("component", "executor").Logger(),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 执行一组订单意图, 返回每笔订单的结果
//
// 单笔订单失败只记录结果, 绝不中断同组其余订单的执行,
// 也不以error形式向上传播。
func (e *Executor) Execute(ctx context.Context, intents types.OrderIntents) []types.OrderOutcome {
	outcomes := make([]types.OrderOutcome, 0, intents.Active())

	for _, symbol := range intents.SellSymbols() {
		outcome := e.executeOrder(ctx, symbol, types.SideSell, math.Abs(intents[symbol]))
		outcomes = append(outcomes, outcome)
	}

	for _, symbol := range intents.BuySymbols() {
		outcome := e.executeOrder(ctx, symbol, types.SideBuy, intents[symbol])
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// executeOrder 执行单笔订单, 可重试错误按指数退避有界重试
func (e *Executor) executeOrder(ctx context.Context, symbol string, side types.Side, notional float64) types.OrderOutcome {
	outcome := types.OrderOutcome{
		Symbol:   symbol,
		Side:     side,
		Notional: notional,
	}

	attempts := 0
	var placed types.Order

	operation := func() error {
		attempts++

		// 提交前重新取价: 距漂移计算已过去一段时间, 不复用旧报价
		price, err := e.gateway.GetLatestQuote(ctx, symbol, side)
		if err != nil {
			return classify(err)
		}

		order, err := e.gateway.SubmitMarketOrder(ctx, symbol, side, notional)
		if err != nil {
			return classify(err)
		}
		placed = order

		e.log.Info().
			Str("symbol", symbol).
			Str("side", string(side)).
			Float64("notional", notional).
			Float64("quote", price).
			Str("order_id", order.ID).
			Int("attempt", attempts).
			Msg("Order submitted")
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initialBackoff
	policy.RandomizationFactor = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, e.maxRetries), ctx))

	outcome.Retries = attempts - 1
	if err != nil {
		outcome.Status = types.OrderFailed
		outcome.Error = err.Error()
		e.log.Error().
			Str("symbol", symbol).
			Str("side", string(side)).
			Float64("notional", notional).
			Int("attempts", attempts).
			Err(err).
			Msg("Order failed")
		return outcome
	}

	outcome.Status = types.OrderSucceeded
	outcome.OrderID = placed.ID
	return outcome
}

// classify 不可重试错误标记为Permanent以跳过剩余重试
func classify(err error) error {
	if !broker.IsRetryable(err) {
		return backoff.Permanent(err)
	}
	return err
}
