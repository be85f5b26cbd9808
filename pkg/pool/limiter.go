package pool

import (
	"time"

	"github.com/shopspring/decimal"
	xrate "golang.org/x/time/rate"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
)

var msPerSecond = decimal.NewFromInt(1000)

// Validate 校验限流器快照
func (r RateLimiter) Validate() error {
	if !r.Enabled {
		return nil
	}
	if !r.Capacity.IsPositive() {
		return errs.MalformedConfig("rate_limiter.capacity must be > 0, got %s", r.Capacity)
	}
	if r.RefillRatePerMs.IsNegative() {
		return errs.MalformedConfig("rate_limiter.refill_rate_per_ms must be >= 0, got %s", r.RefillRatePerMs)
	}
	if r.Available.IsNegative() || r.Available.GreaterThan(r.Capacity) {
		return errs.MalformedConfig("rate_limiter.available must be in [0,capacity], got %s", r.Available)
	}
	if r.LastUpdatedMs < 0 {
		return errs.InvalidAmount("rate_limiter.last_updated_ms", r.LastUpdatedMs)
	}
	return nil
}

// TokensAt 把快照回放到 nowMs，返回桶里可用的额度 (向下取整)
//
// 快照只记录了 LastUpdatedMs 时刻的余量，这里用 x/time/rate 的令牌桶
// 按显式时间戳重建: 先把桶装满，再扣掉已用掉的部分，然后推进到 nowMs。
func (r RateLimiter) TokensAt(nowMs int64) (decimal.Decimal, error) {
	if err := r.Validate(); err != nil {
		return decimal.Zero, err
	}
	if !r.RefillRatePerMs.IsPositive() || nowMs <= r.LastUpdatedMs {
		return r.Available.Floor(), nil
	}

	capacity := int(r.Capacity.IntPart())
	available := int(r.Available.IntPart())
	perSecond, _ := r.RefillRatePerMs.Mul(msPerSecond).Float64()

	last := time.UnixMilli(r.LastUpdatedMs)
	lim := xrate.NewLimiter(xrate.Inf, capacity)
	// 以无限速率推进到 last，桶被填满到 capacity，再切回真实速率
	lim.SetLimitAt(last, xrate.Limit(perSecond))
	lim.AllowN(last, capacity-available)

	tokens := lim.TokensAt(time.UnixMilli(nowMs))
	return fixed.Clamp(decimal.NewFromFloat(tokens).Floor(), decimal.Zero, r.Capacity.Floor()), nil
}

// WithdrawAllowance 当前最多能提多少 = min(可用流动性, 限流额度)
//
// 没配置限流器或限流器未启用时只受可用流动性约束。
func WithdrawAllowance(s State, nowMs int64) (decimal.Decimal, error) {
	if err := s.Validate(); err != nil {
		return decimal.Zero, err
	}
	liquidity := AvailableLiquidity(s)
	rl := s.Config.RateLimiter
	if rl == nil || !rl.Enabled {
		return liquidity, nil
	}
	tokens, err := rl.TokensAt(nowMs)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Min(liquidity, tokens), nil
}
