package main

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"max.com/margin/pkg/pool"
)

func poolCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "pool",
		Short: "Pool accounting: metrics, accrual, gating and balances",
	}
	c.PersistentFlags().StringP("file", "f", "", "pool state (json or yaml, - for stdin)")
	c.PersistentFlags().Int64("now", 0, "evaluation time in unix ms (0 = now)")
	c.AddCommand(
		&cobra.Command{Use: "snapshot", Short: "Utilization, APRs and liquidity (with pending interest)", RunE: poolSnapshot},
		&cobra.Command{Use: "accrue", Short: "Post pending interest up to --now", RunE: poolAccrue},
		&cobra.Command{Use: "allowance", Short: "Withdrawable amount under liquidity and rate limiter", RunE: poolAllowance},
		poolCheckCommand(),
		poolBalanceCommand(),
	)
	return c
}

func loadPool(cmd *cobra.Command) (pool.State, int64, error) {
	path, _ := cmd.Flags().GetString("file")
	var s pool.State
	if err := readInput(path, &s); err != nil {
		return pool.State{}, 0, err
	}
	now, _ := cmd.Flags().GetInt64("now")
	if now <= 0 {
		now = time.Now().UnixMilli()
	}
	return s, now, s.Validate()
}

func poolSnapshot(cmd *cobra.Command, _ []string) error {
	s, now, err := loadPool(cmd)
	if err != nil {
		return err
	}
	m, err := pool.SnapshotAt(s, now)
	if err != nil {
		return err
	}
	return printOut(cmd, m)
}

func poolAccrue(cmd *cobra.Command, _ []string) error {
	s, now, err := loadPool(cmd)
	if err != nil {
		return err
	}
	next, err := pool.Accrue(s, now)
	if err != nil {
		return err
	}
	return printOut(cmd, next)
}

func poolAllowance(cmd *cobra.Command, _ []string) error {
	s, now, err := loadPool(cmd)
	if err != nil {
		return err
	}
	a, err := pool.WithdrawAllowance(s, now)
	if err != nil {
		return err
	}
	return printOut(cmd, map[string]any{
		"pool_id":             s.PoolID,
		"available_liquidity": pool.AvailableLiquidity(s),
		"withdraw_allowance":  a,
		"as_of":               now,
	})
}

type checkResult struct {
	Action string          `json:"action"`
	Amount decimal.Decimal `json:"amount"`
	OK     bool            `json:"ok"`
	Reason string          `json:"reason,omitempty"`
}

func poolCheckCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "check",
		Short: "Check a supply or borrow against caps, liquidity and utilization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := loadPool(cmd)
			if err != nil {
				return err
			}
			var out []checkResult
			for _, action := range []string{"supply", "borrow"} {
				amount, err := decimalFlag(cmd, action)
				if err != nil {
					return err
				}
				if amount.IsZero() {
					continue
				}
				check := pool.CheckSupply
				if action == "borrow" {
					check = pool.CheckBorrow
				}
				r := checkResult{Action: action, Amount: amount, OK: true}
				if err := check(s, amount); err != nil {
					r.OK, r.Reason = false, err.Error()
				}
				out = append(out, r)
			}
			return printOut(cmd, out)
		},
	}
	c.Flags().String("supply", "", "supply amount")
	c.Flags().String("borrow", "", "borrow amount")
	return c
}

func poolBalanceCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "balance",
		Short: "Convert shares to balances and estimate earned interest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := loadPool(cmd)
			if err != nil {
				return err
			}
			supplyShares, err := decimalFlag(cmd, "supply-shares")
			if err != nil {
				return err
			}
			borrowShares, err := decimalFlag(cmd, "borrow-shares")
			if err != nil {
				return err
			}
			net, err := decimalFlag(cmd, "net-deposited")
			if err != nil {
				return err
			}

			supplied, err := pool.SupplierBalance(s, supplyShares)
			if err != nil {
				return err
			}
			debt, err := pool.BorrowerDebt(s, borrowShares)
			if err != nil {
				return err
			}
			var est pool.InterestEstimate
			if net.IsZero() {
				est, err = pool.EstimateInterestEarned(s, supplyShares)
			} else {
				est, err = pool.InterestEarned(s, supplyShares, net)
			}
			if err != nil {
				return err
			}
			return printOut(cmd, map[string]any{
				"supplied": supplied,
				"debt":     debt,
				"interest": est,
			})
		},
	}
	c.Flags().String("supply-shares", "", "supplier shares")
	c.Flags().String("borrow-shares", "", "borrower shares")
	c.Flags().String("net-deposited", "", "net deposited principal (exact interest when set)")
	return c
}
