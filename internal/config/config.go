package config

import (
	"fmt"
	"math"
	"os"

	"github.com/joho/godotenv"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"gopkg.in/yaml.v3"
)

// 未跟踪持仓的归一化策略
const (
	UntrackedDilute  = "dilute"  // 未跟踪持仓计入总值, 稀释跟踪标的权重
	UntrackedExclude = "exclude" // 仅按跟踪标的总值归一化
)

// Config 配置文件结构
type Config struct {
	Mode        ModeSection        `yaml:"mode"`
	Allocation  map[string]float64 `yaml:"allocation"`
	Rebalancing RebalancingSection `yaml:"rebalancing"`
	Risk        RiskSection        `yaml:"risk"`
	Costs       CostsSection       `yaml:"costs"`
	Logging     LoggingSection     `yaml:"logging"`
	State       StateSection       `yaml:"state"`
	Journal     JournalSection     `yaml:"journal"`
	Schedule    ScheduleSection    `yaml:"schedule"`
}

// ModeSection 运行模式
type ModeSection struct {
	PaperTrading bool `yaml:"paper_trading"`
}

// RebalancingSection 再平衡参数
type RebalancingSection struct {
	DriftThreshold  float64 `yaml:"drift_threshold"`
	MinDaysBetween  int     `yaml:"min_days_between"`
	MinTradeUSD     float64 `yaml:"min_trade_usd"`
	UntrackedPolicy string  `yaml:"untracked_policy"`
}

// RiskSection 风控参数
type RiskSection struct {
	MaxDailyLoss     float64 `yaml:"max_daily_loss"`
	MaxDrawdownPause float64 `yaml:"max_drawdown_pause"`
	InitialCapital   float64 `yaml:"initial_capital"` // 回撤基准, 0表示禁用回撤熔断
}

// CostsSection 交易成本参数
type CostsSection struct {
	CommissionFixed float64 `yaml:"commission_fixed"`
	CommissionRate  float64 `yaml:"commission_rate"`
	MaxCostRatio    float64 `yaml:"max_cost_ratio"`
}

// LoggingSection 日志配置
type LoggingSection struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

// StateSection 状态目录配置
type StateSection struct {
	Dir string `yaml:"dir"`
}

// JournalSection 交易流水配置
type JournalSection struct {
	Path string `yaml:"path"`
}

// ScheduleSection 定时任务配置
type ScheduleSection struct {
	Cron string `yaml:"cron"`
}

// Credentials 券商API凭证 (从环境变量读取, 不入配置文件)
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Load 从文件加载并校验配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Rebalancing.UntrackedPolicy == "" {
		c.Rebalancing.UntrackedPolicy = UntrackedDilute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "state/journal.db"
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 30 15 * * MON-FRI"
	}
}

// Validate 校验配置, 失败时必须阻止系统启动
func (c *Config) Validate() error {
	if len(c.Allocation) == 0 {
		return fmt.Errorf("allocation must not be empty")
	}

	total := 0.0
	for symbol, weight := range c.Allocation {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("allocation for %s must be in [0, 1], got %v", symbol, weight)
		}
		total += weight
	}
	if math.Abs(total-1.0) > 0.001 {
		return fmt.Errorf("allocation must sum to 1.0, got %v", total)
	}

	if c.Rebalancing.DriftThreshold < 0 {
		return fmt.Errorf("drift_threshold must not be negative")
	}
	if c.Rebalancing.MinDaysBetween < 0 {
		return fmt.Errorf("min_days_between must not be negative")
	}
	if c.Rebalancing.MinTradeUSD < 0 {
		return fmt.Errorf("min_trade_usd must not be negative")
	}
	switch c.Rebalancing.UntrackedPolicy {
	case UntrackedDilute, UntrackedExclude:
	default:
		return fmt.Errorf("untracked_policy must be %q or %q, got %q",
			UntrackedDilute, UntrackedExclude, c.Rebalancing.UntrackedPolicy)
	}

	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxDrawdownPause < 0 {
		return fmt.Errorf("risk thresholds must not be negative")
	}

	return nil
}

// TargetAllocation 转换为目标配置
func (c *Config) TargetAllocation() types.TargetAllocation {
	target := make(types.TargetAllocation, len(c.Allocation))
	for symbol, weight := range c.Allocation {
		target[symbol] = weight
	}
	return target
}

// LoadCredentials 加载券商API凭证, 缺失时立即失败
func LoadCredentials() (Credentials, error) {
	// .env 不存在时忽略, 仍可通过环境变量注入
	_ = godotenv.Load()

	creds := Credentials{
		APIKey:    os.Getenv("ALPACA_API_KEY"),
		SecretKey: os.Getenv("ALPACA_SECRET_KEY"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf(
			"alpaca API keys not found: set ALPACA_API_KEY and ALPACA_SECRET_KEY")
	}
	return creds, nil
}
