// 文件: pkg/fixed/fixed.go
// 定点数运算
//
// 链上 (Move) 所有比例都是 1e9 定点数 (FLOAT_SCALING)，
// 这里用 decimal 复刻同样的截断规则，保证客户端算出来的数和链上一致。
//
// 约定:
// - 所有函数只接受非负数，截断 = 向下取整
// - 截断只在最后一步除法发生，中间乘积保持精确

package fixed

import (
	"math"

	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
)

// Scaling 链上定点数精度: 1.0 == 1_000_000_000
const Scaling int64 = 1_000_000_000

var (
	// One 1.0 的定点表示
	One = decimal.NewFromInt(Scaling)

	hundred = decimal.NewFromInt(100)
	unit    = decimal.NewFromInt(1)
)

// MulDiv 计算 floor(a * b / c)
func MulDiv(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if c.IsZero() {
		return decimal.Zero, errs.DivisionGuard("mul_div by zero")
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q, nil
}

// MulDivUp 计算 ceil(a * b / c)
func MulDivUp(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if c.IsZero() {
		return decimal.Zero, errs.DivisionGuard("mul_div_up by zero")
	}
	q, r := a.Mul(b).QuoRem(c, 0)
	if !r.IsZero() {
		q = q.Add(unit)
	}
	return q, nil
}

// Mul 定点乘法: floor(a * b / scale)
func Mul(a, b, scale decimal.Decimal) (decimal.Decimal, error) {
	return MulDiv(a, b, scale)
}

// Div 定点除法: floor(a * scale / b)
func Div(a, b, scale decimal.Decimal) (decimal.Decimal, error) {
	return MulDiv(a, scale, b)
}

// ToFraction 把定点数还原成小数，例如 115_000_000 -> 0.115
func ToFraction(scaled, scale decimal.Decimal) (decimal.Decimal, error) {
	if scale.IsZero() {
		return decimal.Zero, errs.DivisionGuard("zero scale")
	}
	return scaled.Div(scale), nil
}

// FromFloat 把 float64 转成 decimal，拒绝 NaN / Inf
func FromFloat(field string, v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, errs.InvalidAmount(field, v)
	}
	return decimal.NewFromFloat(v), nil
}

// NonNegative 校验取值 >= 0
func NonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return errs.InvalidAmount(field, v)
	}
	return nil
}

// Pct 小数转百分比: 0.115 -> 11.5
func Pct(v decimal.Decimal) decimal.Decimal {
	return v.Mul(hundred)
}

// FromPct 百分比转小数: 11.5 -> 0.115
func FromPct(v decimal.Decimal) decimal.Decimal {
	return v.Div(hundred)
}

// Clamp 把 v 限制在 [lo, hi]
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
