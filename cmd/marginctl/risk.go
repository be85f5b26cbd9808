package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"max.com/margin/pkg/config"
	"max.com/margin/pkg/risk"
)

func riskCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "risk",
		Short: "Risk ratio, levels, borrow/withdraw gating and liquidation sizing",
	}
	c.PersistentFlags().StringP("file", "f", "", "position (json or yaml, - for stdin)")
	c.PersistentFlags().String("config", "", "service config with markets and bands")
	c.PersistentFlags().String("market", "", "market id from --config")
	c.AddCommand(
		&cobra.Command{Use: "evaluate", Short: "Evaluate a USD position", RunE: riskEvaluate},
		riskAccountCommand(),
		riskGateCommand("borrow", "Check an additional borrow against min_borrow_risk_ratio"),
		riskGateCommand("withdraw", "Check a withdrawal against min_withdraw_risk_ratio"),
		&cobra.Command{Use: "repay", Short: "Debt to repay to restore the target risk ratio", RunE: riskRepay},
	)
	return c
}

// riskContext 引擎 + 可选的市场参数；给了 --market 时用市场清算线覆盖仓位上的值
type riskContext struct {
	engine    *risk.Engine
	market    risk.MarketRisk
	hasMarket bool
}

func loadRiskContext(cmd *cobra.Command) (riskContext, error) {
	path, _ := cmd.Flags().GetString("config")
	marketID, _ := cmd.Flags().GetString("market")
	if path == "" {
		if marketID != "" {
			return riskContext{}, fmt.Errorf("--market needs --config")
		}
		return riskContext{engine: risk.NewEngine()}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return riskContext{}, err
	}
	engine, err := risk.NewEngineWithBands(cfg.RiskBands())
	if err != nil {
		return riskContext{}, err
	}
	rc := riskContext{engine: engine}
	if marketID != "" {
		m, ok := cfg.Market(marketID)
		if !ok {
			return riskContext{}, fmt.Errorf("unknown market %s", marketID)
		}
		rc.market, rc.hasMarket = m.Risk, true
	}
	return rc, nil
}

func (rc riskContext) apply(p risk.Position) risk.Position {
	if rc.hasMarket {
		return rc.market.Apply(p)
	}
	return p
}

func loadPosition(cmd *cobra.Command) (risk.Position, error) {
	path, _ := cmd.Flags().GetString("file")
	var p risk.Position
	return p, readInput(path, &p)
}

func riskEvaluate(cmd *cobra.Command, _ []string) error {
	rc, err := loadRiskContext(cmd)
	if err != nil {
		return err
	}
	p, err := loadPosition(cmd)
	if err != nil {
		return err
	}
	r, err := rc.engine.Evaluate(rc.apply(p))
	if err != nil {
		return err
	}
	return printOut(cmd, r)
}

func riskAccountCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "account",
		Short: "Price raw account balances and evaluate them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := loadRiskContext(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("file")
			var a risk.Account
			if err := readInput(path, &a); err != nil {
				return err
			}
			pricesPath, _ := cmd.Flags().GetString("prices")
			var list []risk.PriceSnapshot
			if err := readInput(pricesPath, &list); err != nil {
				return err
			}
			prices := make(map[string]risk.PriceSnapshot, len(list))
			for _, p := range list {
				prices[p.Symbol] = p
			}
			pos, err := risk.Price(a, prices)
			if err != nil {
				return err
			}
			r, err := rc.engine.Evaluate(rc.apply(pos))
			if err != nil {
				return err
			}
			return printOut(cmd, r)
		},
	}
	c.Flags().String("prices", "", "price snapshots (json or yaml list)")
	return c
}

func riskGateCommand(action, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := loadRiskContext(cmd)
			if err != nil {
				return err
			}
			if !rc.hasMarket {
				return fmt.Errorf("%s needs --config and --market", action)
			}
			p, err := loadPosition(cmd)
			if err != nil {
				return err
			}
			amount, err := decimalFlag(cmd, "amount")
			if err != nil {
				return err
			}
			gate := rc.engine.CanBorrow
			if action == "withdraw" {
				gate = rc.engine.CanWithdraw
			}
			ok, after, err := gate(p, rc.market, amount)
			if err != nil {
				return err
			}
			return printOut(cmd, map[string]any{
				"action":           action,
				"amount_usd":       amount,
				"allowed":          ok,
				"risk_ratio_after": after,
			})
		},
	}
	c.Flags().String("amount", "", "amount in USD")
	return c
}

func riskRepay(cmd *cobra.Command, _ []string) error {
	rc, err := loadRiskContext(cmd)
	if err != nil {
		return err
	}
	if !rc.hasMarket {
		return fmt.Errorf("repay needs --config and --market")
	}
	p, err := loadPosition(cmd)
	if err != nil {
		return err
	}
	repay, err := rc.engine.LiquidationRepay(p, rc.market)
	if err != nil {
		return err
	}
	return printOut(cmd, map[string]any{
		"account_id": p.AccountID,
		"repay_usd":  repay,
		"target":     rc.market.TargetLiquidationRiskRatio,
	})
}
