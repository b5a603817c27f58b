package cost

import (
	"testing"

	"github.com/opsxjacky/Rebalance-live/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestMinTradeSize(t *testing.T) {
	tests := []struct {
		name     string
		model    Model
		expected float64
	}{
		{
			name:     "fixed plus rate",
			model:    Model{CommissionFixed: 2.0, CommissionRate: 0.002, MaxCostRatio: 0.01},
			expected: 250.0, // 2.0 / (0.01 - 0.002)
		},
		{
			name:     "no fixed commission is no constraint",
			model:    Model{CommissionRate: 0.002, MaxCostRatio: 0.01},
			expected: 0,
		},
		{
			name:     "rate exceeds max ratio",
			model:    Model{CommissionFixed: 2.0, CommissionRate: 0.02, MaxCostRatio: 0.01},
			expected: 1000.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.MinTradeSize())
		})
	}
}

func TestEffectiveMinTrade(t *testing.T) {
	m := NewModel(config.CostsSection{CommissionFixed: 2.0, CommissionRate: 0.002, MaxCostRatio: 0.01})

	// 取配置下限与成本推导下限中的较大者
	assert.Equal(t, 250.0, m.EffectiveMinTrade(100))
	assert.Equal(t, 400.0, m.EffectiveMinTrade(400))
}
