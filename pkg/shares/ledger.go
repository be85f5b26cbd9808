// 文件: pkg/shares/ledger.go
// 份额账本 (ShareLedger)
//
// 池子不直接记录每个人存了多少钱，而是记录"份额":
//
//	ratio  = totalUnderlying * SCALE / totalShares   (每份额值多少底层资产)
//	amount = shares * ratio / SCALE
//	shares = amount * SCALE / ratio
//
// 利息进入池子后 totalUnderlying 变大、totalShares 不变，ratio 上升，
// 所有持有人的份额自动增值。

package shares

import (
	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
)

// Side 账本方向
type Side int

const (
	// SideSupply 存款侧: 两个方向都向下截断，池子永远不会多付
	SideSupply Side = iota

	// SideBorrow 借款侧: 两个方向都向上取整，借款人永远不会少欠
	SideBorrow
)

// String 返回方向的字符串表示
func (s Side) String() string {
	switch s {
	case SideSupply:
		return "supply"
	case SideBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// =============================================================================
// 无状态转换函数 (存款侧语义)
// =============================================================================

// Ratio 计算每份额的底层资产价值 (scale 定点)
//
// totalShares == 0 时定义为 1.0，空池的第一位存款人 1:1 拿到份额。
func Ratio(totalUnderlying, totalShares, scale decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(totalUnderlying, totalShares, scale); err != nil {
		return decimal.Zero, err
	}
	if totalShares.IsZero() {
		return scale, nil
	}
	return fixed.Div(totalUnderlying, totalShares, scale)
}

// SharesToAmount 份额 -> 底层资产数量，向下截断
func SharesToAmount(shares, totalUnderlying, totalShares, scale decimal.Decimal) (decimal.Decimal, error) {
	return Ledger{Side: SideSupply}.SharesToAmount(shares, totalUnderlying, totalShares, scale)
}

// AmountToShares 底层资产数量 -> 份额，向下截断
func AmountToShares(amount, totalUnderlying, totalShares, scale decimal.Decimal) (decimal.Decimal, error) {
	return Ledger{Side: SideSupply}.AmountToShares(amount, totalUnderlying, totalShares, scale)
}

// =============================================================================
// Ledger 带方向的账本
// =============================================================================

// Ledger 绑定了取整方向的份额账本
type Ledger struct {
	Side Side
}

// SharesToAmount 份额 -> 数量
func (l Ledger) SharesToAmount(shares, totalUnderlying, totalShares, scale decimal.Decimal) (decimal.Decimal, error) {
	if err := fixed.NonNegative("shares", shares); err != nil {
		return decimal.Zero, err
	}
	ratio, err := l.ratio(totalUnderlying, totalShares, scale)
	if err != nil {
		return decimal.Zero, err
	}
	if shares.IsZero() {
		return decimal.Zero, nil
	}
	if l.Side == SideBorrow {
		return fixed.MulDivUp(shares, ratio, scale)
	}
	return fixed.Mul(shares, ratio, scale)
}

// AmountToShares 数量 -> 份额
//
// 池子里还有份额但底层资产已经归零 (ratio == 0) 时，
// 没有任何规则能给正数的存款定价，返回 ErrDivisionGuard。
func (l Ledger) AmountToShares(amount, totalUnderlying, totalShares, scale decimal.Decimal) (decimal.Decimal, error) {
	if err := fixed.NonNegative("amount", amount); err != nil {
		return decimal.Zero, err
	}
	ratio, err := l.ratio(totalUnderlying, totalShares, scale)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	if ratio.IsZero() {
		return decimal.Zero, errs.DivisionGuard("share ratio is zero")
	}
	if l.Side == SideBorrow {
		return fixed.MulDivUp(amount, scale, ratio)
	}
	return fixed.Div(amount, ratio, scale)
}

// ratio 借款侧的 ratio 也向上取整
func (l Ledger) ratio(totalUnderlying, totalShares, scale decimal.Decimal) (decimal.Decimal, error) {
	if l.Side != SideBorrow {
		return Ratio(totalUnderlying, totalShares, scale)
	}
	if err := validate(totalUnderlying, totalShares, scale); err != nil {
		return decimal.Zero, err
	}
	if totalShares.IsZero() {
		return scale, nil
	}
	return fixed.MulDivUp(totalUnderlying, scale, totalShares)
}

func validate(totalUnderlying, totalShares, scale decimal.Decimal) error {
	if err := fixed.NonNegative("total_underlying", totalUnderlying); err != nil {
		return err
	}
	if err := fixed.NonNegative("total_shares", totalShares); err != nil {
		return err
	}
	if !scale.IsPositive() {
		return errs.MalformedConfig("scale must be positive, got %s", scale)
	}
	return nil
}
