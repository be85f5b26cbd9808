package risk

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/margin/pkg/errs"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate_Boundary(t *testing.T) {
	e := NewEngine()

	// 场景：
	// 抵押 1050 U (base 525 + quote 525)，负债 1000 U，清算线 1.05
	// 风险率恰好 1.05，闭区间 => 可清算
	p := Position{
		AccountID:            "acc-1",
		Market:               "SUI_USDC",
		BaseAsset:            USD(d("525")),
		QuoteAsset:           USD(d("525")),
		QuoteDebt:            USD(d("1000")),
		LiquidationThreshold: d("1.05"),
	}

	out, err := e.Evaluate(p)
	require.NoError(t, err)

	assert.True(t, out.CollateralUSD.Equal(d("1050")))
	assert.True(t, out.DebtUSD.Equal(d("1000")))
	assert.True(t, out.RiskRatio.Equal(d("1.05")), "ratio %s", out.RiskRatio)
	assert.True(t, out.IsLiquidatable)
	assert.True(t, out.DistanceToLiquidationPct.IsZero())
	assert.Equal(t, LevelLiquidatable, out.Level)
}

func TestEvaluate_Distance(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name       string
		collateral string
		debt       string
		distance   string
		level      Level
		liquidate  bool
	}{
		{"healthy", "2000", "1000", "100", LevelSafe, false},
		{"warning", "1250", "1000", "25", LevelWarning, false},
		{"danger", "1100", "1000", "10", LevelDanger, false},
		{"critical", "1040", "1000", "4", LevelCritical, false},
		{"underwater", "900", "1000", "-10", LevelLiquidatable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(Position{
				BaseAsset:            USD(d(tt.collateral)),
				BaseDebt:             USD(d(tt.debt)),
				LiquidationThreshold: d("1"),
			})
			require.NoError(t, err)
			assert.True(t, out.DistanceToLiquidationPct.Equal(d(tt.distance)), "distance %s", out.DistanceToLiquidationPct)
			assert.Equal(t, tt.level, out.Level)
			assert.Equal(t, tt.liquidate, out.IsLiquidatable)
		})
	}
}

func TestEvaluate_NoDebt(t *testing.T) {
	e := NewEngine()
	out, err := e.Evaluate(Position{
		QuoteAsset:           USD(d("10")),
		LiquidationThreshold: d("1.1"),
	})
	require.NoError(t, err)
	assert.True(t, out.RiskRatio.Equal(MaxRiskRatio))
	assert.False(t, out.IsLiquidatable)
	assert.Equal(t, LevelSafe, out.Level)

	// 空仓位同样不可清算
	out, err = e.Evaluate(Position{LiquidationThreshold: d("1.1")})
	require.NoError(t, err)
	assert.False(t, out.IsLiquidatable)
}

func TestEvaluate_Errors(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name   string
		p      Position
		target error
	}{
		{"missing price", Position{BaseAsset: Unpriced(d("3")), LiquidationThreshold: d("1.1")}, errs.ErrPriceUnavailable},
		{"negative usd", Position{QuoteDebt: USD(d("-1")), LiquidationThreshold: d("1.1")}, errs.ErrInvalidAmount},
		{"negative amount", Position{BaseDebt: Priced(d("-1"), d("1")), LiquidationThreshold: d("1.1")}, errs.ErrInvalidAmount},
		{"zero threshold", Position{LiquidationThreshold: decimal.Zero}, errs.ErrMalformedConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(tt.p)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestPrice(t *testing.T) {
	prices := map[string]PriceSnapshot{
		"SUI":  {Symbol: "SUI", PriceUSD: d("2")},
		"USDC": {Symbol: "USDC", PriceUSD: d("1")},
	}
	acc := Account{
		ID:                   "acc-7",
		Market:               "SUI_USDC",
		BaseSymbol:           "SUI",
		QuoteSymbol:          "USDC",
		BaseAsset:            d("100"),
		QuoteAsset:           d("50"),
		QuoteDebt:            d("200"),
		LiquidationThreshold: d("1.1"),
	}

	p, err := Price(acc, prices)
	require.NoError(t, err)
	assert.True(t, p.BaseAsset.USD.Equal(d("200")))
	assert.True(t, p.QuoteDebt.USD.Equal(d("200")))

	out, err := NewEngine().Evaluate(p)
	require.NoError(t, err)
	assert.True(t, out.RiskRatio.Equal(d("1.25")))

	t.Run("missing price", func(t *testing.T) {
		delete(prices, "SUI")
		_, err := Price(acc, prices)
		assert.True(t, errors.Is(err, errs.ErrPriceUnavailable))

		// base 余额为 0 时不需要 SUI 的价格
		acc.BaseAsset = decimal.Zero
		_, err = Price(acc, prices)
		assert.NoError(t, err)
	})
}

func TestPriceSnapshot_Stale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := PriceSnapshot{Ts: now.Add(-time.Minute)}
	assert.True(t, p.Stale(now, 30*time.Second))
	assert.False(t, p.Stale(now, 2*time.Minute))
	assert.False(t, PriceSnapshot{}.Stale(now, time.Second))
}

func TestBands(t *testing.T) {
	_, err := NewEngineWithBands(Bands{WarningPct: d("10"), DangerPct: d("20"), CriticalPct: d("5")})
	assert.True(t, errors.Is(err, errs.ErrMalformedConfig))

	e, err := NewEngineWithBands(Bands{WarningPct: d("50"), DangerPct: d("20"), CriticalPct: d("10")})
	require.NoError(t, err)
	out, err := e.Evaluate(Position{BaseAsset: USD(d("1400")), BaseDebt: USD(d("1000")), LiquidationThreshold: d("1")})
	require.NoError(t, err)
	assert.Equal(t, LevelWarning, out.Level)
}

func TestLevel_Text(t *testing.T) {
	raw, err := json.Marshal(struct{ L Level }{LevelCritical})
	require.NoError(t, err)
	assert.JSONEq(t, `{"L":"CRITICAL"}`, string(raw))

	var back struct{ L Level }
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, LevelCritical, back.L)

	var bad Level
	assert.Error(t, bad.UnmarshalText([]byte("MAYBE")))
}

var market = MarketRisk{
	LiquidationThreshold:       d("1.1"),
	MinBorrowRiskRatio:         d("1.25"),
	MinWithdrawRiskRatio:       d("2"),
	TargetLiquidationRiskRatio: d("1.25"),
	LiquidationReward:          d("0.05"),
}

func TestMarketRisk_Validate(t *testing.T) {
	require.NoError(t, market.Validate())

	bad := market
	bad.TargetLiquidationRiskRatio = d("1.04")
	assert.True(t, errors.Is(bad.Validate(), errs.ErrMalformedConfig))

	bad = market
	bad.LiquidationReward = d("0.3")
	assert.True(t, errors.Is(bad.Validate(), errs.ErrMalformedConfig), "target must exceed 1 + reward")

	bad = market
	bad.MinBorrowRiskRatio = d("1")
	assert.True(t, errors.Is(bad.Validate(), errs.ErrMalformedConfig))
}

func TestCanBorrowWithdraw(t *testing.T) {
	e := NewEngine()
	p := Position{BaseAsset: USD(d("3000")), QuoteDebt: USD(d("1000"))}

	ok, after, err := e.CanBorrow(p, market, d("1000"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, after.Equal(d("2")))

	// (3000 + 7000) / (1000 + 7000) = 1.25 刚好允许
	ok, _, err = e.CanBorrow(p, market, d("7000"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = e.CanBorrow(p, market, d("7001"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, after, err = e.CanWithdraw(p, market, d("1000"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, after.Equal(d("2")))

	ok, _, err = e.CanWithdraw(p, market, d("1001"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = e.CanWithdraw(Position{QuoteAsset: USD(d("5"))}, market, d("5"))
	require.NoError(t, err)
	assert.True(t, ok, "no debt")

	ok, _, err = e.CanWithdraw(Position{QuoteAsset: USD(d("5"))}, market, d("6"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLiquidationRepay(t *testing.T) {
	e := NewEngine()

	t.Run("restores target", func(t *testing.T) {
		p := Position{BaseAsset: USD(d("1100")), QuoteDebt: USD(d("1000"))}
		repay, err := e.LiquidationRepay(p, market)
		require.NoError(t, err)
		// (1.25*1000 - 1100) / (1.25 - 1 - 0.05) = 750
		require.True(t, repay.Equal(d("750")), "repay %s", repay)

		left := d("1100").Sub(repay.Mul(d("1.05")))
		debt := d("1000").Sub(repay)
		assert.True(t, left.Div(debt).Equal(market.TargetLiquidationRiskRatio))
	})

	t.Run("capped at debt", func(t *testing.T) {
		p := Position{BaseAsset: USD(d("900")), QuoteDebt: USD(d("1000"))}
		repay, err := e.LiquidationRepay(p, market)
		require.NoError(t, err)
		assert.True(t, repay.Equal(d("1000")))
	})

	t.Run("healthy", func(t *testing.T) {
		p := Position{BaseAsset: USD(d("5000")), QuoteDebt: USD(d("1000"))}
		repay, err := e.LiquidationRepay(p, market)
		require.NoError(t, err)
		assert.True(t, repay.IsZero())
	})
}

func BenchmarkEvaluate(b *testing.B) {
	e := NewEngine()
	p := Position{
		BaseAsset:            USD(d("1234.5678")),
		QuoteAsset:           USD(d("42")),
		BaseDebt:             USD(d("321.123")),
		QuoteDebt:            USD(d("700")),
		LiquidationThreshold: d("1.1"),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Evaluate(p)
	}
}
