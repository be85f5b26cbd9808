// 文件: pkg/pool/accountant.go
// 池子记账 (PoolAccountant)
//
// 输入是一份池子快照，输出利用率、利率、可用流动性等派生指标。
// 计息、借款/存款校验、提现额度都是纯函数，不修改快照。

package pool

import (
	"fmt"

	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/rate"
	"max.com/margin/pkg/shares"
)

var (
	one     = decimal.NewFromInt(1)
	yearDec = decimal.NewFromInt(YearMs)

	supplyLedger = shares.Ledger{Side: shares.SideSupply}
	borrowLedger = shares.Ledger{Side: shares.SideBorrow}
)

// =============================================================================
// 校验
// =============================================================================

// Validate 校验快照
//
// - 所有数量非负
// - 借出不能超过存款
// - 没有份额的一侧总量必须为 0
// - 风控参数在合法范围内
func (s State) Validate() error {
	return s.validate(s.TotalSupply)
}

// validateAccrued 计息之后的快照
//
// 协议收入计入借款但不计入存款，利用率接近 1 时借款最多可以超出 ProtocolFees。
func (s State) validateAccrued() error {
	return s.validate(s.TotalSupply.Add(s.ProtocolFees))
}

func (s State) validate(borrowCap decimal.Decimal) error {
	amounts := []struct {
		field string
		v     decimal.Decimal
	}{
		{"total_supply", s.TotalSupply},
		{"total_borrow", s.TotalBorrow},
		{"supply_shares", s.SupplyShares},
		{"borrow_shares", s.BorrowShares},
		{"protocol_fees", s.ProtocolFees},
	}
	for _, a := range amounts {
		if err := fixed.NonNegative(a.field, a.v); err != nil {
			return err
		}
	}
	if s.TotalBorrow.GreaterThan(borrowCap) {
		return errs.InvalidAmount("total_borrow", s.TotalBorrow)
	}
	if s.SupplyShares.IsZero() && s.TotalSupply.IsPositive() {
		return errs.InvalidAmount("total_supply", s.TotalSupply)
	}
	if s.BorrowShares.IsZero() && s.TotalBorrow.IsPositive() {
		return errs.InvalidAmount("total_borrow", s.TotalBorrow)
	}
	if s.LastUpdateTimestamp < 0 {
		return errs.InvalidAmount("last_update_timestamp", s.LastUpdateTimestamp)
	}
	if err := s.Interest.Validate(); err != nil {
		return err
	}
	return s.Config.Validate()
}

// Validate 校验池子风控参数
func (c Config) Validate() error {
	if c.SupplyCap.IsNegative() {
		return errs.MalformedConfig("supply_cap must be >= 0, got %s", c.SupplyCap)
	}
	if c.MinBorrow.IsNegative() {
		return errs.MalformedConfig("min_borrow must be >= 0, got %s", c.MinBorrow)
	}
	if c.MaxUtilizationRate.IsNegative() || c.MaxUtilizationRate.GreaterThan(one) {
		return errs.MalformedConfig("max_utilization_rate must be in [0,1], got %s", c.MaxUtilizationRate)
	}
	if err := rate.ValidateSpread(c.ProtocolSpread); err != nil {
		return err
	}
	if c.RateLimiter != nil {
		return c.RateLimiter.Validate()
	}
	return nil
}

// =============================================================================
// 指标
// =============================================================================

// Snapshot 计算池子当前指标 (不计提待付利息)
func Snapshot(s State) (Metrics, error) {
	if err := s.Validate(); err != nil {
		return Metrics{}, err
	}
	return metrics(s)
}

// SnapshotAt 先计提到 nowMs 再计算指标
func SnapshotAt(s State, nowMs int64) (Metrics, error) {
	accrued, err := Accrue(s, nowMs)
	if err != nil {
		return Metrics{}, err
	}
	if err := accrued.validateAccrued(); err != nil {
		return Metrics{}, err
	}
	return metrics(accrued)
}

func metrics(s State) (Metrics, error) {
	u := rate.Utilization(s.TotalBorrow, s.TotalSupply)
	r, err := rate.Compute(u, s.Interest, s.Config.ProtocolSpread)
	if err != nil {
		return Metrics{}, err
	}

	supplyRatio, err := shares.Ratio(s.TotalSupply, s.SupplyShares, fixed.One)
	if err != nil {
		return Metrics{}, err
	}
	borrowRatio, err := shares.Ratio(s.TotalBorrow, s.BorrowShares, fixed.One)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		PoolID:             s.PoolID,
		Asset:              s.Asset,
		Utilization:        u,
		UtilizationPct:     fixed.Pct(u),
		BorrowAprPct:       fixed.Pct(r.BorrowAPR),
		SupplyAprPct:       fixed.Pct(r.SupplyAPR),
		TotalSupply:        s.TotalSupply,
		TotalBorrow:        s.TotalBorrow,
		AvailableLiquidity: AvailableLiquidity(s),
		SupplyRatio:        supplyRatio,
		BorrowRatio:        borrowRatio,
		AsOf:               s.LastUpdateTimestamp,
	}, nil
}

// AvailableLiquidity 可借/可提的资金 = max(0, supply - borrow)
func AvailableLiquidity(s State) decimal.Decimal {
	avail := s.TotalSupply.Sub(s.TotalBorrow)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// =============================================================================
// 计息
// =============================================================================

// Accrue 把 LastUpdateTimestamp 到 nowMs 之间的借款利息记入池子
//
//	interest = floor(totalBorrow * borrowApr * elapsedMs / YEAR_MS)
//	fee      = floor(interest * spread)
//
// 借款总额增加 interest，存款总额增加 interest - fee，协议收入增加 fee。
// 份额数量不变，所以两侧的 ratio 一起上涨。nowMs 早于上次计息时间时原样返回。
func Accrue(s State, nowMs int64) (State, error) {
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	if nowMs <= s.LastUpdateTimestamp || s.TotalBorrow.IsZero() {
		if nowMs > s.LastUpdateTimestamp {
			s.LastUpdateTimestamp = nowMs
		}
		return s, nil
	}

	u := rate.Utilization(s.TotalBorrow, s.TotalSupply)
	borrowAPR := rate.BorrowAPR(u, s.Interest)

	elapsed := decimal.NewFromInt(nowMs - s.LastUpdateTimestamp)
	interest, _ := s.TotalBorrow.Mul(borrowAPR).Mul(elapsed).QuoRem(yearDec, 0)
	fee, _ := interest.Mul(s.Config.ProtocolSpread).QuoRem(one, 0)

	s.TotalBorrow = s.TotalBorrow.Add(interest)
	s.TotalSupply = s.TotalSupply.Add(interest.Sub(fee))
	s.ProtocolFees = s.ProtocolFees.Add(fee)
	s.LastUpdateTimestamp = nowMs
	return s, nil
}

// =============================================================================
// 用户视角
// =============================================================================

// SupplierBalance 存款份额对应的底层资产 (向下截断)
func SupplierBalance(s State, supplyShares decimal.Decimal) (decimal.Decimal, error) {
	return supplyLedger.SharesToAmount(supplyShares, s.TotalSupply, s.SupplyShares, fixed.One)
}

// BorrowerDebt 借款份额对应的负债 (向上取整)
func BorrowerDebt(s State, borrowShares decimal.Decimal) (decimal.Decimal, error) {
	return borrowLedger.SharesToAmount(borrowShares, s.TotalBorrow, s.BorrowShares, fixed.One)
}

// EstimateInterestEarned 粗略估算存款利息
//
// 不知道存入时的份额价格，就假设当时 ratio = 1.0，本金 = 份额数。
// 结果带 Approximate 标记，只能用于展示。
func EstimateInterestEarned(s State, supplyShares decimal.Decimal) (InterestEstimate, error) {
	est, err := InterestEarned(s, supplyShares, supplyShares)
	if err != nil {
		return InterestEstimate{}, err
	}
	est.Approximate = true
	return est, nil
}

// InterestEarned 已知净存入金额时的利息 = 当前价值 - 净存入，最小为 0
func InterestEarned(s State, supplyShares, netDeposited decimal.Decimal) (InterestEstimate, error) {
	if err := fixed.NonNegative("net_deposited", netDeposited); err != nil {
		return InterestEstimate{}, err
	}
	current, err := SupplierBalance(s, supplyShares)
	if err != nil {
		return InterestEstimate{}, err
	}
	earned := current.Sub(netDeposited)
	if earned.IsNegative() {
		earned = decimal.Zero
	}
	return InterestEstimate{
		CurrentValue: current,
		Principal:    netDeposited,
		Earned:       earned,
	}, nil
}

// =============================================================================
// 操作前置校验
// =============================================================================

// CheckSupply 存款是否会超过存款上限
func CheckSupply(s State, amount decimal.Decimal) error {
	if err := fixed.NonNegative("amount", amount); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Config.SupplyCap.IsPositive() {
		after := s.TotalSupply.Add(amount)
		if after.GreaterThan(s.Config.SupplyCap) {
			return fmt.Errorf("%w: %s > cap %s", ErrSupplyCapExceeded, after, s.Config.SupplyCap)
		}
	}
	return nil
}

// CheckBorrow 借款前置校验
//
// 依次检查: 最小借款额、池子可用流动性、借款后利用率上限。
func CheckBorrow(s State, amount decimal.Decimal) error {
	if err := fixed.NonNegative("amount", amount); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if amount.LessThan(s.Config.MinBorrow) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinBorrow, amount, s.Config.MinBorrow)
	}
	avail := AvailableLiquidity(s)
	if amount.GreaterThan(avail) {
		return fmt.Errorf("%w: want %s, available %s", ErrInsufficientLiquidity, amount, avail)
	}
	if s.Config.MaxUtilizationRate.IsPositive() {
		after := rate.Utilization(s.TotalBorrow.Add(amount), s.TotalSupply)
		if after.GreaterThan(s.Config.MaxUtilizationRate) {
			return fmt.Errorf("%w: %s > %s", ErrMaxUtilizationExceeded, after, s.Config.MaxUtilizationRate)
		}
	}
	return nil
}
