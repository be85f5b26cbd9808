package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"max.com/margin/pkg/concentration"
	"max.com/margin/pkg/shares"
)

func concentrationCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "concentration",
		Short: "Replay ledger events into HHI, Gini, top shares and cohorts",
		RunE:  runConcentration,
	}
	c.Flags().StringP("file", "f", "", "ledger events (json or yaml list)")
	c.Flags().String("pool", "", "only events of this pool")
	c.Flags().String("side", "supply", "supply or borrow")
	c.Flags().Int64("now", 0, "cohort reference time in unix ms (0 = now)")
	c.Flags().Duration("window", 7*24*time.Hour, "activity window for cohorts")
	return c
}

func runConcentration(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	var events []concentration.Event
	if err := readInput(path, &events); err != nil {
		return err
	}

	poolID, _ := cmd.Flags().GetString("pool")
	if poolID != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.PoolID == poolID {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	sideName, _ := cmd.Flags().GetString("side")
	var side shares.Side
	switch sideName {
	case "supply":
		side = shares.SideSupply
	case "borrow":
		side = shares.SideBorrow
	default:
		return fmt.Errorf("--side must be supply or borrow, got %q", sideName)
	}

	now, _ := cmd.Flags().GetInt64("now")
	if now <= 0 {
		now = time.Now().UnixMilli()
	}
	window, _ := cmd.Flags().GetDuration("window")

	balances, err := concentration.Replay(events, side)
	if err != nil {
		return err
	}
	cohorts := make(map[concentration.Cohort]int)
	for c, members := range concentration.Classify(balances, now, window) {
		cohorts[c] = len(members)
	}
	return printOut(cmd, map[string]any{
		"pool_id":  poolID,
		"side":     side.String(),
		"report":   concentration.Analyze(balances),
		"cohorts":  cohorts,
		"balances": balances,
	})
}
