// 文件: pkg/rate/model.go
// 利率模型 (RateModel)
//
// 两段式 (kinked) 线性利率曲线:
//
//	u <= optimal: borrowApr = baseRate + baseSlope * u
//	u >  optimal: borrowApr = baseRate + baseSlope * optimal + excessSlope * (u - optimal)
//
//	supplyApr = borrowApr * u * (1 - protocolSpread)
//
// 拐点以下斜率平缓，拐点以上斜率陡峭，流动性越紧张借款越贵。
// 整条公式没有除法，optimal 取 0 或 1 都是安全的。

package rate

import (
	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
)

var one = decimal.NewFromInt(1)

// InterestConfig 利率曲线参数，全部是小数 (0.02 表示 2%)
type InterestConfig struct {
	BaseRate           decimal.Decimal `json:"base_rate" yaml:"base_rate"`
	BaseSlope          decimal.Decimal `json:"base_slope" yaml:"base_slope"`
	OptimalUtilization decimal.Decimal `json:"optimal_utilization" yaml:"optimal_utilization"`
	ExcessSlope        decimal.Decimal `json:"excess_slope" yaml:"excess_slope"`
}

// Rates 一次利率计算的结果 (小数)
type Rates struct {
	Utilization decimal.Decimal `json:"utilization" yaml:"utilization"`
	BorrowAPR   decimal.Decimal `json:"borrow_apr" yaml:"borrow_apr"`
	SupplyAPR   decimal.Decimal `json:"supply_apr" yaml:"supply_apr"`
}

// Validate 校验利率参数，四个字段都是 [0, 1] 内的小数
//
// 斜率为负时曲线不再单调。
func (c InterestConfig) Validate() error {
	fields := []struct {
		name string
		v    decimal.Decimal
	}{
		{"base_rate", c.BaseRate},
		{"base_slope", c.BaseSlope},
		{"optimal_utilization", c.OptimalUtilization},
		{"excess_slope", c.ExcessSlope},
	}
	for _, f := range fields {
		if f.v.IsNegative() || f.v.GreaterThan(one) {
			return errs.MalformedConfig("%s must be in [0,1], got %s", f.name, f.v)
		}
	}
	return nil
}

// ValidateSpread 协议抽成必须在 [0, 1]
func ValidateSpread(spread decimal.Decimal) error {
	if spread.IsNegative() || spread.GreaterThan(one) {
		return errs.MalformedConfig("protocol_spread must be in [0,1], got %s", spread)
	}
	return nil
}

// Utilization 资金利用率 = totalBorrow / totalSupply
//
// totalSupply == 0 时为 0；结果强制截断在 [0, 1]。
func Utilization(totalBorrow, totalSupply decimal.Decimal) decimal.Decimal {
	if !totalSupply.IsPositive() || !totalBorrow.IsPositive() {
		return decimal.Zero
	}
	return fixed.Clamp(totalBorrow.Div(totalSupply), decimal.Zero, one)
}

// BorrowAPR 根据利用率计算借款年化
func BorrowAPR(u decimal.Decimal, cfg InterestConfig) decimal.Decimal {
	u = fixed.Clamp(u, decimal.Zero, one)

	if u.LessThanOrEqual(cfg.OptimalUtilization) {
		return cfg.BaseRate.Add(cfg.BaseSlope.Mul(u))
	}

	// 拐点处的利率
	atKink := cfg.BaseRate.Add(cfg.BaseSlope.Mul(cfg.OptimalUtilization))
	// 超出拐点的部分按 excessSlope 计
	excess := u.Sub(cfg.OptimalUtilization)
	return atKink.Add(cfg.ExcessSlope.Mul(excess))
}

// SupplyAPR 存款年化 = borrowApr * u * (1 - spread)
//
// 没借出去的资金不产生收益，协议先抽成再分给存款人。
func SupplyAPR(borrowAPR, u, spread decimal.Decimal) decimal.Decimal {
	u = fixed.Clamp(u, decimal.Zero, one)
	spread = fixed.Clamp(spread, decimal.Zero, one)
	return borrowAPR.Mul(u).Mul(one.Sub(spread))
}

// Compute 一次性算出借款和存款年化
func Compute(u decimal.Decimal, cfg InterestConfig, spread decimal.Decimal) (Rates, error) {
	if err := cfg.Validate(); err != nil {
		return Rates{}, err
	}
	if err := ValidateSpread(spread); err != nil {
		return Rates{}, err
	}
	u = fixed.Clamp(u, decimal.Zero, one)
	borrow := BorrowAPR(u, cfg)
	return Rates{
		Utilization: u,
		BorrowAPR:   borrow,
		SupplyAPR:   SupplyAPR(borrow, u, spread),
	}, nil
}

// =============================================================================
// 参数归一化
// =============================================================================

// FromScaled 链上配置是定点数 (例如 1e9 精度)，转换成小数
func FromScaled(cfg InterestConfig, scale decimal.Decimal) (InterestConfig, error) {
	if !scale.IsPositive() {
		return InterestConfig{}, errs.MalformedConfig("scale must be positive, got %s", scale)
	}
	var out InterestConfig
	for _, f := range []struct {
		dst *decimal.Decimal
		src decimal.Decimal
	}{
		{&out.BaseRate, cfg.BaseRate},
		{&out.BaseSlope, cfg.BaseSlope},
		{&out.OptimalUtilization, cfg.OptimalUtilization},
		{&out.ExcessSlope, cfg.ExcessSlope},
	} {
		v, err := fixed.ToFraction(f.src, scale)
		if err != nil {
			return InterestConfig{}, err
		}
		*f.dst = v
	}
	return out, nil
}

// FromPercent 百分比配置 (2 表示 2%) 转换成小数
func FromPercent(cfg InterestConfig) InterestConfig {
	return InterestConfig{
		BaseRate:           fixed.FromPct(cfg.BaseRate),
		BaseSlope:          fixed.FromPct(cfg.BaseSlope),
		OptimalUtilization: fixed.FromPct(cfg.OptimalUtilization),
		ExcessSlope:        fixed.FromPct(cfg.ExcessSlope),
	}
}

// =============================================================================
// 曲线采样 (给图表用)
// =============================================================================

// Curve 在 [0, 1] 上均匀采样 points 个点，points < 2 时按 2 处理
func Curve(cfg InterestConfig, spread decimal.Decimal, points int) ([]Rates, error) {
	if points < 2 {
		points = 2
	}
	steps := decimal.NewFromInt(int64(points - 1))
	out := make([]Rates, 0, points)
	for i := 0; i < points; i++ {
		u := decimal.NewFromInt(int64(i)).Div(steps)
		r, err := Compute(u, cfg, spread)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
