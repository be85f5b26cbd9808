// 文件: cmd/simulation/main.go
// 行情模拟: 随机游走一段时间后暴跌，观察风险分级变化和清算告警
//
// 不依赖任何外部服务，告警只打日志。

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/monitor"
	"max.com/margin/pkg/risk"
	"max.com/margin/pkg/store"
)

const (
	market = "SUI_USDC"
	base   = "SUI"
	quote  = "USDC"
)

var suiUSDC = risk.MarketRisk{
	LiquidationThreshold:       decimal.RequireFromString("1.1"),
	MinBorrowRiskRatio:         decimal.RequireFromString("1.25"),
	MinWithdrawRiskRatio:       decimal.NewFromInt(2),
	TargetLiquidationRiskRatio: decimal.RequireFromString("1.25"),
	LiquidationReward:          decimal.RequireFromString("0.02"),
}

// logSink 只打日志的告警出口
type logSink struct{}

func (logSink) SendAlert(_ context.Context, a monitor.Alert) error {
	logger.WithComponent("simulation").WithFields(logger.Fields{
		"account": a.AccountID,
		"ratio":   a.RiskRatio.StringFixed(4),
		"repay":   a.RepayUSD.StringFixed(2),
	}).Warn("📉 liquidation alert")
	return nil
}

type options struct {
	accounts int
	steps    int
	crashAt  int
	crashPct float64
	start    float64
	tick     time.Duration
	seed     uint64
}

func main() {
	if err := command().Execute(); err != nil {
		os.Exit(1)
	}
}

func command() *cobra.Command {
	o := options{}
	c := &cobra.Command{
		Use:          "simulation",
		Short:        "Random-walk the SUI price, crash it, and watch the risk monitor react",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, o)
		},
	}
	f := c.Flags()
	f.IntVar(&o.accounts, "accounts", 50, "number of leveraged accounts")
	f.IntVar(&o.steps, "steps", 60, "price ticks to simulate")
	f.IntVar(&o.crashAt, "crash-at", 40, "tick at which the price crashes")
	f.Float64Var(&o.crashPct, "crash-pct", 20, "crash size in percent")
	f.Float64Var(&o.start, "price", 2, "starting SUI price")
	f.DurationVar(&o.tick, "tick", 50*time.Millisecond, "delay between ticks")
	f.Uint64Var(&o.seed, "seed", 7, "random seed")
	return c
}

func run(ctx context.Context, o options) error {
	log := logger.WithComponent("simulation")
	if o.accounts <= 0 || o.steps <= 0 {
		return fmt.Errorf("accounts and steps must be positive")
	}

	ids, err := store.NewIDGenerator(1)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	svc := monitor.NewService(monitor.Options{
		Markets: map[string]risk.MarketRisk{market: suiUSDC},
		Sink:    logSink{},
		Metrics: monitor.NewMetrics(reg),
		NextID:  ids.Next,
	})

	price, err := fixed.FromFloat("price", o.start)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return errs.InvalidAmount("price", o.start)
	}
	crashPct, err := fixed.FromFloat("crash-pct", o.crashPct)
	if err != nil {
		return err
	}
	crash := decimal.NewFromInt(1).Sub(fixed.FromPct(crashPct))
	if !crash.IsPositive() {
		return errs.InvalidAmount("crash-pct", o.crashPct)
	}
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))

	if err := svc.HandlePrice(ctx, snapshot(base, price)); err != nil {
		return err
	}
	if err := svc.HandlePrice(ctx, snapshot(quote, decimal.NewFromInt(1))); err != nil {
		return err
	}

	// 1. 开仓: 每个账户存入 SUI，按 1.3 ~ 2.5 的初始风险率借出 USDC
	for i := 0; i < o.accounts; i++ {
		collateral := decimal.NewFromInt(int64(100 + rng.IntN(900)))
		ratio := decimal.NewFromFloat(1.3 + rng.Float64()*1.2)
		debt := collateral.Mul(price).Div(ratio).Round(2)
		_, err := svc.HandleAccount(ctx, risk.Account{
			ID:          fmt.Sprintf("acct-%03d", i),
			Market:      market,
			BaseSymbol:  base,
			QuoteSymbol: quote,
			BaseAsset:   collateral,
			QuoteDebt:   debt,
		})
		if err != nil {
			return err
		}
	}
	log.WithField("accounts", o.accounts).Info("✅ positions opened")

	// 2. 行情: 随机游走，到点暴跌
	ticker := time.NewTicker(max(o.tick, time.Millisecond))
	defer ticker.Stop()
	for step := 0; step < o.steps; step++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if step == o.crashAt {
			price = price.Mul(crash).Round(4)
			log.WithField("price", price.StringFixed(4)).Warn("📉 forced crash")
		} else {
			move := decimal.NewFromFloat((rng.Float64() - 0.5) * 0.02)
			price = price.Mul(decimal.NewFromInt(1).Add(move)).Round(4)
		}
		if err := svc.HandlePrice(ctx, snapshot(base, price)); err != nil {
			return err
		}

		if step%10 == 0 || step == o.crashAt {
			log.WithFields(logger.Fields{
				"step":   step,
				"price":  price.StringFixed(4),
				"levels": svc.Index().Counts(),
			}).Info("tick")
		}
	}

	// 3. 汇总
	stats, err := svc.Rescan(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"evaluated": stats.Evaluated,
		"failed":    stats.Failed,
		"levels":    svc.Index().Counts(),
	}).Info("🛑 simulation finished")

	worst := svc.Index().ByLevel(risk.LevelLiquidatable)
	if len(worst) == 0 {
		worst = svc.Index().ByLevel(risk.LevelCritical)
	}
	if len(worst) > 0 {
		rep, err := svc.StressReport(worst[0].AccountID, nil)
		if err != nil {
			return err
		}
		log.WithFields(logger.Fields{
			"account":              worst[0].AccountID,
			"liquidation_move_pct": rep.LiquidationMovePct.StringFixed(2),
			"reachable":            rep.Reachable,
		}).Info("worst account")
	}
	return nil
}

func snapshot(symbol string, p decimal.Decimal) risk.PriceSnapshot {
	return risk.PriceSnapshot{Symbol: symbol, PriceUSD: p}
}
