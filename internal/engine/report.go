package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opsxjacky/Rebalance-live/internal/drift"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
)

// PerformanceReport 账户绩效快照
type PerformanceReport struct {
	Timestamp      time.Time         `json:"timestamp"`
	PortfolioValue float64           `json:"portfolio_value"`
	Cash           float64           `json:"cash"`
	Equity         float64           `json:"equity"`
	Weights        types.Weights     `json:"weights"`
	Drift          types.DriftVector `json:"drift"`
	LastRebalance  *time.Time        `json:"last_rebalance,omitempty"`
}

// GeneratePerformanceReport 生成绩效报告并写入reports目录
func (e *Engine) GeneratePerformanceReport(ctx context.Context, dir string) (*PerformanceReport, error) {
	account, err := e.gateway.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot reach brokerage gateway: %w", err)
	}
	positions, err := e.gateway.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch positions: %w", err)
	}

	target := e.cfg.TargetAllocation()
	snapshot := drift.Snapshot{Positions: positions, TotalValue: account.PortfolioValue}
	weights := drift.CurrentWeights(target, snapshot, e.cfg.Rebalancing.UntrackedPolicy)

	lastRebalance, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	report := &PerformanceReport{
		Timestamp:      e.now(),
		PortfolioValue: account.PortfolioValue,
		Cash:           account.Cash,
		Equity:         account.Equity,
		Weights:        weights,
		Drift:          drift.Calculate(target, weights),
		LastRebalance:  lastRebalance,
	}

	if dir != "" {
		if err := writeReport(dir, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func writeReport(dir string, report *PerformanceReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s.json", report.Timestamp.Format("20060102")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
