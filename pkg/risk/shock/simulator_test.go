package shock

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// long 抵押 1 个 base (2000 U)，借 1000 U 稳定币
func long() risk.Position {
	return risk.Position{
		AccountID:            "long",
		BaseAsset:            risk.Priced(d("1"), d("2000")),
		QuoteDebt:            risk.USD(d("1000")),
		LiquidationThreshold: d("1.1"),
	}
}

func TestSimulate_ZeroIsEvaluate(t *testing.T) {
	sim := NewSimulator(nil)
	positions := []risk.Position{long(), {
		BaseAsset:            risk.USD(d("123.45")),
		QuoteAsset:           risk.USD(d("67.8")),
		BaseDebt:             risk.USD(d("90")),
		QuoteDebt:            risk.USD(d("11")),
		LiquidationThreshold: d("1.05"),
	}}
	e := risk.NewEngine()
	for _, p := range positions {
		want, err := e.Evaluate(p)
		require.NoError(t, err)
		got, err := sim.Simulate(p, decimal.Zero)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSimulate_Long(t *testing.T) {
	sim := NewSimulator(nil)

	out, err := sim.Simulate(long(), d("-10"))
	require.NoError(t, err)
	assert.True(t, out.CollateralUSD.Equal(d("1800")))
	assert.True(t, out.RiskRatio.Equal(d("1.8")))
	assert.False(t, out.IsLiquidatable)

	out, err = sim.Simulate(long(), d("-45"))
	require.NoError(t, err)
	assert.True(t, out.RiskRatio.Equal(d("1.1")))
	assert.True(t, out.IsLiquidatable)

	// 入参不被修改
	p := long()
	_, err = sim.Simulate(p, d("-50"))
	require.NoError(t, err)
	assert.True(t, p.BaseAsset.USD.Equal(d("2000")))
}

func TestSimulate_QuoteUnchanged(t *testing.T) {
	p := risk.Position{
		QuoteAsset:           risk.USD(d("500")),
		BaseDebt:             risk.USD(d("100")),
		QuoteDebt:            risk.USD(d("100")),
		LiquidationThreshold: d("1.1"),
	}
	shocked, err := Shock(p, d("20"))
	require.NoError(t, err)
	assert.True(t, shocked.QuoteAsset.USD.Equal(d("500")))
	assert.True(t, shocked.QuoteDebt.USD.Equal(d("100")))
	assert.True(t, shocked.BaseDebt.USD.Equal(d("120")))
}

func TestSimulate_InvalidMove(t *testing.T) {
	sim := NewSimulator(nil)
	_, err := sim.Simulate(long(), d("-100.01"))
	assert.True(t, errors.Is(err, errs.ErrInvalidAmount))

	// -100% 合法: base 价格归零
	out, err := sim.Simulate(long(), d("-100"))
	require.NoError(t, err)
	assert.True(t, out.CollateralUSD.IsZero())
	assert.True(t, out.IsLiquidatable)
}

func TestSweep_PreservesOrder(t *testing.T) {
	sim := NewSimulator(nil)
	moves := DefaultMoves()
	require.Len(t, moves, 13)

	out, err := sim.Sweep(long(), moves)
	require.NoError(t, err)
	require.Len(t, out, len(moves))

	// 多头仓位价格越高越健康
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i].RiskRatio.GreaterThan(out[i-1].RiskRatio), "move %s", moves[i])
	}

	reversed := []decimal.Decimal{d("10"), d("-10")}
	out, err = sim.Sweep(long(), reversed)
	require.NoError(t, err)
	assert.True(t, out[0].RiskRatio.Equal(d("2.2")))
	assert.True(t, out[1].RiskRatio.Equal(d("1.8")))
}

func TestSweepBatch(t *testing.T) {
	sim := NewSimulator(nil)
	positions := make([]risk.Position, 50)
	for i := range positions {
		p := long()
		p.AccountID = fmt.Sprintf("acc-%02d", i)
		p.BaseAsset = risk.USD(decimal.NewFromInt(int64(1000 + i*100)))
		positions[i] = p
	}
	moves := DefaultMoves()

	out, err := sim.SweepBatch(context.Background(), positions, moves, 4)
	require.NoError(t, err)
	require.Len(t, out, len(positions))

	for i, p := range positions {
		want, err := sim.Sweep(p, moves)
		require.NoError(t, err)
		assert.Equal(t, want, out[i], "position %d", i)
		assert.Equal(t, p.AccountID, out[i][0].AccountID)
	}

	t.Run("first error wins", func(t *testing.T) {
		bad := append([]risk.Position{}, positions...)
		bad[17].BaseAsset = risk.Unpriced(d("1"))
		_, err := sim.SweepBatch(context.Background(), bad, moves, 4)
		assert.True(t, errors.Is(err, errs.ErrPriceUnavailable), "got %v", err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := sim.SweepBatch(ctx, positions, moves, 2)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLiquidationMove(t *testing.T) {
	tests := []struct {
		name string
		p    risk.Position
		want string
		ok   bool
	}{
		{"long", long(), "-45", true},
		{"short", risk.Position{
			QuoteAsset:           risk.USD(d("3000")),
			BaseDebt:             risk.USD(d("2000")),
			LiquidationThreshold: d("1.25"),
		}, "20", true},
		{"price neutral", risk.Position{
			BaseAsset:            risk.USD(d("1100")),
			BaseDebt:             risk.USD(d("1000")),
			LiquidationThreshold: d("1.1"),
		}, "0", false},
		{"no debt", risk.Position{
			BaseAsset:            risk.USD(d("1100")),
			LiquidationThreshold: d("1.1"),
		}, "0", false},
		{"stable collateral covers", risk.Position{
			BaseAsset:            risk.USD(d("100")),
			QuoteAsset:           risk.USD(d("5000")),
			QuoteDebt:            risk.USD(d("1000")),
			LiquidationThreshold: d("1.1"),
		}, "0", false},
	}
	sim := NewSimulator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, ok, err := LiquidationMove(tt.p)
			require.NoError(t, err)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.True(t, pct.Equal(d(tt.want)), "pct %s", pct)

			// 在该价格变动下风险率恰好落在清算线上
			out, err := sim.Simulate(tt.p, pct)
			require.NoError(t, err)
			assert.True(t, out.RiskRatio.Equal(tt.p.LiquidationThreshold), "ratio %s", out.RiskRatio)
			assert.True(t, out.IsLiquidatable)
		})
	}
}

func BenchmarkSweep(b *testing.B) {
	sim := NewSimulator(nil)
	p := long()
	moves := DefaultMoves()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = sim.Sweep(p, moves)
	}
}
