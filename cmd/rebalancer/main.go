package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsxjacky/Rebalance-live/internal/broker"
	"github.com/opsxjacky/Rebalance-live/internal/config"
	"github.com/opsxjacky/Rebalance-live/internal/engine"
	"github.com/opsxjacky/Rebalance-live/internal/executor"
	"github.com/opsxjacky/Rebalance-live/internal/journal"
	"github.com/opsxjacky/Rebalance-live/internal/scheduler"
	"github.com/opsxjacky/Rebalance-live/internal/state"
	"github.com/opsxjacky/Rebalance-live/pkg/logger"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dryRun     bool
	force      bool
)

func main() {
	root := &cobra.Command{
		Use:   "rebalancer",
		Short: "Fixed-allocation portfolio drift rebalancer",
		Long: "Rebalance-live periodically compares brokerage holdings against a fixed\n" +
			"target allocation and issues notional market orders to correct drift,\n" +
			"subject to circuit breakers, a minimum rebalance interval and a minimum\n" +
			"trade size.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run the daily portfolio check (policy gates decide whether to trade)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), engine.RunOptions{Operation: "daily_check", DryRun: dryRun})
		},
	}
	checkCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and print the plan without executing orders")

	rebalanceCmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Rebalance now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), engine.RunOptions{Operation: "rebalance", DryRun: dryRun, Force: force})
		},
	}
	rebalanceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and print the plan without executing orders")
	rebalanceCmd.Flags().BoolVar(&force, "force", false, "bypass the time and drift gates (circuit breakers still apply)")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a performance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context())
		},
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run unattended, executing the daily check on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context())
		},
	}

	root.AddCommand(checkCmd, rebalanceCmd, reportCmd, scheduleCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app 运行时组件集合
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	engine  *engine.Engine
	journal *journal.Journal
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

// setup 装配全部组件, 配置或凭证错误在任何交易之前立即失败
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Pretty: cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, err
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, err
	}

	gateway := broker.NewAlpacaClient(broker.AlpacaConfig{
		APIKey:       creds.APIKey,
		SecretKey:    creds.SecretKey,
		PaperTrading: cfg.Mode.PaperTrading,
	})

	lock, err := state.NewLock(cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Deps{
		Config:   cfg,
		Gateway:  gateway,
		Store:    state.NewStore(cfg.State.Dir),
		Lock:     lock,
		Journal:  jnl,
		Executor: executor.New(gateway, log),
		Log:      log,
	})
	if err != nil {
		jnl.Close()
		return nil, err
	}

	mode := "LIVE TRADING"
	if cfg.Mode.PaperTrading {
		mode = "PAPER TRADING"
	}
	log.Info().
		Str("mode", mode).
		Interface("allocation", cfg.Allocation).
		Msg("Rebalancer initialized")

	return &app{cfg: cfg, log: log, engine: eng, journal: jnl}, nil
}

func runCycle(ctx context.Context, opts engine.RunOptions) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.engine.Run(ctx, opts)
	if err != nil {
		return err
	}
	switch report.Status {
	case types.CyclePartial:
		// 部分失败要醒目: 操作者需要知道哪几条腿没有完成
		return fmt.Errorf("rebalance partially failed, see reconciliation report")
	case types.CycleFailed:
		return fmt.Errorf("rebalance failed, no orders succeeded")
	}
	return nil
}

func runReport(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.engine.GeneratePerformanceReport(ctx, "reports")
	if err != nil {
		return err
	}
	fmt.Printf("Portfolio value: $%.2f (cash $%.2f, equity $%.2f)\n",
		report.PortfolioValue, report.Cash, report.Equity)
	for symbol, weight := range report.Weights {
		fmt.Printf("  %s: %.1f%% (drift %+.1f%%)\n", symbol, weight*100, report.Drift[symbol]*100)
	}
	return nil
}

// dailyCheckJob 调度器任务: 执行每日检查
type dailyCheckJob struct {
	app *app
}

func (j *dailyCheckJob) Name() string { return "daily_check" }

func (j *dailyCheckJob) Run() error {
	_, err := j.app.engine.Run(context.Background(), engine.RunOptions{Operation: "daily_check"})
	return err
}

func runSchedule(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.New(a.log)
	if err := sched.AddJob(a.cfg.Schedule.Cron, &dailyCheckJob{app: a}); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", a.cfg.Schedule.Cron, err)
	}
	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info().Msg("Shutting down")
	return nil
}
