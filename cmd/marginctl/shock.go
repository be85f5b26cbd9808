package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"max.com/margin/pkg/risk"
	"max.com/margin/pkg/risk/shock"
)

type sweepRow struct {
	MovePct decimal.Decimal `json:"move_pct"`
	Result  risk.Result     `json:"result"`
}

func shockCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "shock",
		Short: "Base-asset price shock scenarios",
	}
	c.PersistentFlags().StringP("file", "f", "", "position, or a list of positions for batch")
	c.PersistentFlags().String("moves", "", "comma separated price moves in percent (default -50..50)")

	batch := &cobra.Command{Use: "batch", Short: "Sweep many positions concurrently", RunE: shockBatch}
	batch.Flags().Int("workers", 4, "concurrent sweeps")

	c.AddCommand(
		&cobra.Command{Use: "sweep", Short: "Evaluate one position under each move", RunE: shockSweep},
		&cobra.Command{Use: "liquidation-move", Short: "Base price move that lands exactly on the threshold", RunE: shockLiquidationMove},
		batch,
	)
	return c
}

func moves(cmd *cobra.Command) ([]decimal.Decimal, error) {
	s, _ := cmd.Flags().GetString("moves")
	m, err := decimalList(s)
	if err != nil || len(m) > 0 {
		return m, err
	}
	return shock.DefaultMoves(), nil
}

func shockSweep(cmd *cobra.Command, _ []string) error {
	p, err := loadPosition(cmd)
	if err != nil {
		return err
	}
	changes, err := moves(cmd)
	if err != nil {
		return err
	}
	results, err := shock.NewSimulator(nil).Sweep(p, changes)
	if err != nil {
		return err
	}
	rows := make([]sweepRow, len(results))
	for i, r := range results {
		rows[i] = sweepRow{MovePct: changes[i], Result: r}
	}
	return printOut(cmd, rows)
}

func shockLiquidationMove(cmd *cobra.Command, _ []string) error {
	p, err := loadPosition(cmd)
	if err != nil {
		return err
	}
	pct, ok, err := shock.LiquidationMove(p)
	if err != nil {
		return err
	}
	out := map[string]any{"account_id": p.AccountID, "reachable": ok}
	if ok {
		out["move_pct"] = pct
	}
	return printOut(cmd, out)
}

func shockBatch(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	var positions []risk.Position
	if err := readInput(path, &positions); err != nil {
		return err
	}
	changes, err := moves(cmd)
	if err != nil {
		return err
	}
	workers, _ := cmd.Flags().GetInt("workers")
	results, err := shock.NewSimulator(nil).SweepBatch(cmd.Context(), positions, changes, workers)
	if err != nil {
		return err
	}

	out := make([]map[string]any, len(positions))
	for i, p := range positions {
		rows := make([]sweepRow, len(changes))
		for j, r := range results[i] {
			rows[j] = sweepRow{MovePct: changes[j], Result: r}
		}
		out[i] = map[string]any{"account_id": p.AccountID, "sweep": rows}
	}
	return printOut(cmd, out)
}
