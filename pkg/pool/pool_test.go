package pool

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/rate"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func examplePool() State {
	return State{
		PoolID:       "0xusdc",
		Asset:        "USDC",
		Decimals:     6,
		TotalSupply:  d("1000"),
		TotalBorrow:  d("800"),
		SupplyShares: d("1000"),
		BorrowShares: d("800"),
		Interest: rate.InterestConfig{
			BaseRate:           d("0.02"),
			BaseSlope:          d("0.05"),
			OptimalUtilization: d("0.7"),
			ExcessSlope:        d("0.6"),
		},
		Config: Config{
			ProtocolSpread: d("0.1"),
		},
	}
}

func TestSnapshot_Example(t *testing.T) {
	m, err := Snapshot(examplePool())
	require.NoError(t, err)

	assert.True(t, m.UtilizationPct.Equal(d("80")), "utilization %s", m.UtilizationPct)
	assert.True(t, m.BorrowAprPct.Equal(d("11.5")), "borrow %s", m.BorrowAprPct)
	assert.True(t, m.SupplyAprPct.Equal(d("8.28")), "supply %s", m.SupplyAprPct)
	assert.True(t, m.AvailableLiquidity.Equal(d("200")))
	assert.True(t, m.SupplyRatio.Equal(fixed.One))
	assert.True(t, m.BorrowRatio.Equal(fixed.One))
	assert.Equal(t, "USDC", m.Asset)
}

func TestSnapshot_EmptyPool(t *testing.T) {
	s := examplePool()
	s.TotalSupply, s.TotalBorrow = decimal.Zero, decimal.Zero
	s.SupplyShares, s.BorrowShares = decimal.Zero, decimal.Zero

	m, err := Snapshot(s)
	require.NoError(t, err)
	assert.True(t, m.UtilizationPct.IsZero())
	assert.True(t, m.SupplyAprPct.IsZero())
	// 空池借款利率就是基础利率
	assert.True(t, m.BorrowAprPct.Equal(d("2")))
	assert.True(t, m.AvailableLiquidity.IsZero())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*State)
		target error
	}{
		{"negative supply", func(s *State) { s.TotalSupply = d("-1") }, errs.ErrInvalidAmount},
		{"borrow exceeds supply", func(s *State) { s.TotalBorrow = d("1001"); s.BorrowShares = d("1001") }, errs.ErrInvalidAmount},
		{"fees do not raise the borrow cap", func(s *State) {
			s.TotalSupply, s.SupplyShares = d("100"), d("100")
			s.TotalBorrow, s.BorrowShares = d("150"), d("150")
			s.ProtocolFees = d("60")
		}, errs.ErrInvalidAmount},
		{"supply without shares", func(s *State) { s.SupplyShares = decimal.Zero }, errs.ErrInvalidAmount},
		{"borrow without shares", func(s *State) { s.BorrowShares = decimal.Zero }, errs.ErrInvalidAmount},
		{"spread above one", func(s *State) { s.Config.ProtocolSpread = d("1.2") }, errs.ErrMalformedConfig},
		{"max utilization above one", func(s *State) { s.Config.MaxUtilizationRate = d("1.5") }, errs.ErrMalformedConfig},
		{"negative cap", func(s *State) { s.Config.SupplyCap = d("-5") }, errs.ErrMalformedConfig},
		{"bad curve", func(s *State) { s.Interest.OptimalUtilization = d("2") }, errs.ErrMalformedConfig},
		{"limiter over capacity", func(s *State) {
			s.Config.RateLimiter = &RateLimiter{Enabled: true, Capacity: d("10"), Available: d("11")}
		}, errs.ErrMalformedConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := examplePool()
			tt.mutate(&s)
			_, err := Snapshot(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestAccrue(t *testing.T) {
	s := examplePool()
	s.TotalSupply, s.SupplyShares = d("1000000000"), d("1000000000")
	s.TotalBorrow, s.BorrowShares = d("800000000"), d("800000000")
	s.LastUpdateTimestamp = 1_700_000_000_000

	t.Run("one year", func(t *testing.T) {
		got, err := Accrue(s, s.LastUpdateTimestamp+YearMs)
		require.NoError(t, err)
		// 800e6 * 0.115 = 92e6, 协议抽 10%
		assert.True(t, got.TotalBorrow.Equal(d("892000000")), "borrow %s", got.TotalBorrow)
		assert.True(t, got.TotalSupply.Equal(d("1082800000")), "supply %s", got.TotalSupply)
		assert.True(t, got.ProtocolFees.Equal(d("9200000")), "fees %s", got.ProtocolFees)
		assert.Equal(t, s.LastUpdateTimestamp+YearMs, got.LastUpdateTimestamp)
		// 份额不变
		assert.True(t, got.SupplyShares.Equal(s.SupplyShares))

		// 入参没有被修改
		assert.True(t, s.TotalBorrow.Equal(d("800000000")))
	})

	t.Run("half year", func(t *testing.T) {
		got, err := Accrue(s, s.LastUpdateTimestamp+YearMs/2)
		require.NoError(t, err)
		assert.True(t, got.TotalBorrow.Equal(d("846000000")), "borrow %s", got.TotalBorrow)
	})

	t.Run("clock behind", func(t *testing.T) {
		got, err := Accrue(s, s.LastUpdateTimestamp-1)
		require.NoError(t, err)
		assert.True(t, got.TotalBorrow.Equal(s.TotalBorrow))
		assert.Equal(t, s.LastUpdateTimestamp, got.LastUpdateTimestamp)
	})

	t.Run("ratio grows", func(t *testing.T) {
		m, err := SnapshotAt(s, s.LastUpdateTimestamp+YearMs)
		require.NoError(t, err)
		assert.True(t, m.SupplyRatio.Equal(d("1082800000")), "supply ratio %s", m.SupplyRatio)
		assert.True(t, m.BorrowRatio.Equal(d("1115000000")), "borrow ratio %s", m.BorrowRatio)
	})
}

func TestSnapshotAt_FullUtilization(t *testing.T) {
	s := examplePool()
	s.TotalBorrow, s.BorrowShares = d("1000"), d("1000")

	accrued, err := Accrue(s, s.LastUpdateTimestamp+YearMs)
	require.NoError(t, err)
	// 0.235 * 1000 = 235, 协议抽 23
	assert.True(t, accrued.TotalBorrow.Equal(d("1235")), "borrow %s", accrued.TotalBorrow)
	assert.True(t, accrued.TotalSupply.Equal(d("1212")), "supply %s", accrued.TotalSupply)
	assert.True(t, accrued.ProtocolFees.Equal(d("23")), "fees %s", accrued.ProtocolFees)

	// 计息后的结果作为外部快照传入，借款超过存款
	_, err = Snapshot(accrued)
	assert.True(t, errors.Is(err, errs.ErrInvalidAmount), "got %v", err)

	m, err := SnapshotAt(s, s.LastUpdateTimestamp+YearMs)
	require.NoError(t, err)
	assert.True(t, m.UtilizationPct.Equal(d("100")), "utilization %s", m.UtilizationPct)
	assert.True(t, m.AvailableLiquidity.IsZero())
}

func TestBalances(t *testing.T) {
	s := examplePool()
	s.TotalSupply, s.SupplyShares = d("1100"), d("1000")
	s.TotalBorrow, s.BorrowShares = d("1000"), d("750")

	bal, err := SupplierBalance(s, d("333"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("366")))

	debt, err := BorrowerDebt(s, d("2"))
	require.NoError(t, err)
	assert.True(t, debt.Equal(d("3")))

	est, err := EstimateInterestEarned(s, d("1000"))
	require.NoError(t, err)
	assert.True(t, est.Approximate)
	assert.True(t, est.Earned.Equal(d("100")))

	exact, err := InterestEarned(s, d("1000"), d("1050"))
	require.NoError(t, err)
	assert.False(t, exact.Approximate)
	assert.True(t, exact.Earned.Equal(d("50")))

	// 亏损时利息记为 0
	lossy, err := InterestEarned(s, d("1000"), d("2000"))
	require.NoError(t, err)
	assert.True(t, lossy.Earned.IsZero())
}

func TestCheckSupply(t *testing.T) {
	s := examplePool()
	require.NoError(t, CheckSupply(s, d("1000000")), "zero cap is uncapped")

	s.Config.SupplyCap = d("1500")
	require.NoError(t, CheckSupply(s, d("500")))
	err := CheckSupply(s, d("501"))
	assert.True(t, errors.Is(err, ErrSupplyCapExceeded), "got %v", err)

	err = CheckSupply(s, d("-1"))
	assert.True(t, errors.Is(err, errs.ErrInvalidAmount))
}

func TestCheckBorrow(t *testing.T) {
	s := examplePool()
	s.Config.MinBorrow = d("10")
	s.Config.MaxUtilizationRate = d("0.9")

	tests := []struct {
		amount string
		target error
	}{
		{"5", ErrBelowMinBorrow},
		{"201", ErrInsufficientLiquidity},
		{"150", ErrMaxUtilizationExceeded},
		{"100", nil},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := CheckBorrow(s, d(tt.amount))
			if tt.target == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestWithdrawAllowance(t *testing.T) {
	s := examplePool()
	s.TotalSupply, s.SupplyShares = d("100000"), d("100000")

	t.Run("no limiter", func(t *testing.T) {
		got, err := WithdrawAllowance(s, 0)
		require.NoError(t, err)
		assert.True(t, got.Equal(d("99200")))
	})

	const last = int64(1_000_000)
	s.Config.RateLimiter = &RateLimiter{
		Enabled:         true,
		Capacity:        d("1000"),
		RefillRatePerMs: d("0.5"),
		Available:       d("200"),
		LastUpdatedMs:   last,
	}

	tests := []struct {
		name string
		now  int64
		want string
	}{
		{"at snapshot", last, "200"},
		{"clock behind", last - 10, "200"},
		{"one second later", last + 1000, "700"},
		{"refilled", last + 10_000, "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithdrawAllowance(s, tt.now)
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s", got)
		})
	}

	t.Run("liquidity bound", func(t *testing.T) {
		tight := s
		tight.TotalSupply, tight.SupplyShares = d("1100"), d("1100")
		got, err := WithdrawAllowance(tight, last+10_000)
		require.NoError(t, err)
		assert.True(t, got.Equal(d("300")))
	})

	t.Run("no refill", func(t *testing.T) {
		frozen := s
		rl := *s.Config.RateLimiter
		rl.RefillRatePerMs = decimal.Zero
		frozen.Config.RateLimiter = &rl
		got, err := WithdrawAllowance(frozen, last+10_000)
		require.NoError(t, err)
		assert.True(t, got.Equal(d("200")))
	})
}

func BenchmarkSnapshotAt(b *testing.B) {
	s := examplePool()
	s.LastUpdateTimestamp = 1_700_000_000_000
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = SnapshotAt(s, s.LastUpdateTimestamp+3_600_000)
	}
}
