package risk

import (
	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
)

// =============================================================================
// 风险等级定义
// =============================================================================

// Level 风险等级
//
// 按"距离清算线还有多远"分档:
// - 安全区：不需要特别关注
// - 预警区：进入监控索引
// - 危险区：需要更频繁检查
// - 临界区：价格稍有波动就会被清算
// - 清算区：风险率已经跌破清算线
type Level int

const (
	LevelSafe Level = iota
	LevelWarning
	LevelDanger
	LevelCritical
	LevelLiquidatable
)

// String 返回风险等级的字符串表示（用于日志打印）
func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "SAFE"
	case LevelWarning:
		return "WARNING"
	case LevelDanger:
		return "DANGER"
	case LevelCritical:
		return "CRITICAL"
	case LevelLiquidatable:
		return "LIQUIDATABLE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText 序列化成字符串，JSON / YAML 里更好读
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText 从字符串解析，未知字符串报错
func (l *Level) UnmarshalText(text []byte) error {
	for c := LevelSafe; c <= LevelLiquidatable; c++ {
		if c.String() == string(text) {
			*l = c
			return nil
		}
	}
	return errs.MalformedConfig("unknown risk level %q", text)
}

// Bands 风险等级的分档阈值，单位是 DistanceToLiquidationPct
type Bands struct {
	WarningPct  decimal.Decimal `json:"warning_pct" yaml:"warning_pct"`
	DangerPct   decimal.Decimal `json:"danger_pct" yaml:"danger_pct"`
	CriticalPct decimal.Decimal `json:"critical_pct" yaml:"critical_pct"`
}

// DefaultBands 距离清算线 30% / 15% / 5%
func DefaultBands() Bands {
	return Bands{
		WarningPct:  decimal.NewFromInt(30),
		DangerPct:   decimal.NewFromInt(15),
		CriticalPct: decimal.NewFromInt(5),
	}
}

// Validate 档位必须为正且从宽到窄排列
func (b Bands) Validate() error {
	if !b.CriticalPct.IsPositive() {
		return errs.MalformedConfig("critical_pct must be > 0, got %s", b.CriticalPct)
	}
	if b.DangerPct.LessThan(b.CriticalPct) || b.WarningPct.LessThan(b.DangerPct) {
		return errs.MalformedConfig("bands must satisfy warning >= danger >= critical, got %s/%s/%s",
			b.WarningPct, b.DangerPct, b.CriticalPct)
	}
	return nil
}

// Classify 根据评估结果计算风险等级
func (b Bands) Classify(r Result) Level {
	switch {
	case r.IsLiquidatable:
		return LevelLiquidatable
	case r.DebtUSD.IsZero():
		return LevelSafe
	case r.DistanceToLiquidationPct.LessThanOrEqual(b.CriticalPct):
		return LevelCritical
	case r.DistanceToLiquidationPct.LessThanOrEqual(b.DangerPct):
		return LevelDanger
	case r.DistanceToLiquidationPct.LessThanOrEqual(b.WarningPct):
		return LevelWarning
	default:
		return LevelSafe
	}
}
