package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/opsxjacky/Rebalance-live/pkg/types"
)

// Gateway 券商网关接口
type Gateway interface {
	// GetAccount 获取账户概要
	GetAccount(ctx context.Context) (types.Account, error)

	// GetPositions 获取当前全部持仓
	GetPositions(ctx context.Context) ([]types.Position, error)

	// GetLatestQuote 获取最新报价 (买入取ask, 卖出取bid)
	GetLatestQuote(ctx context.Context, symbol string, side types.Side) (float64, error)

	// SubmitMarketOrder 提交按金额计价的市价单
	SubmitMarketOrder(ctx context.Context, symbol string, side types.Side, notional float64) (types.Order, error)
}

// APIError 券商API错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error (status %d): %s", e.StatusCode, e.Message)
}

// 明确不可重试的错误特征: 认证失败/标的无效/请求非法/资金不足
var nonRetryablePatterns = []string{
	"insufficient",
	"invalid symbol",
	"not found",
	"unauthorized",
	"forbidden",
}

// IsRetryable 判断错误是否可重试
//
// 可重试: 超时/网络中断/429限流/5xx
// 不可重试: 400/401/403/404/422
// 无法判断时保守地按可重试处理
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		case apiErr.StatusCode >= 400:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return true
}
