package pool

import (
	"errors"

	"github.com/shopspring/decimal"

	"max.com/margin/pkg/rate"
)

// YearMs 一年的毫秒数，链上按 365 天计息
const YearMs int64 = 365 * 24 * 60 * 60 * 1000

var (
	ErrSupplyCapExceeded      = errors.New("supply cap exceeded")
	ErrBelowMinBorrow         = errors.New("borrow below minimum")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrMaxUtilizationExceeded = errors.New("max utilization exceeded")
)

// RateLimiter 提现限流器快照 (令牌桶)
//
// Available 是 LastUpdatedMs 时刻桶里剩余的额度，
// 之后按 RefillRatePerMs 匀速回填，最多回到 Capacity。
type RateLimiter struct {
	Enabled         bool            `json:"enabled" yaml:"enabled"`
	Capacity        decimal.Decimal `json:"capacity" yaml:"capacity"`
	RefillRatePerMs decimal.Decimal `json:"refill_rate_per_ms" yaml:"refill_rate_per_ms"`
	Available       decimal.Decimal `json:"available" yaml:"available"`
	LastUpdatedMs   int64           `json:"last_updated_ms" yaml:"last_updated_ms"`
}

// Config 池子的风控参数
type Config struct {
	// SupplyCap 存款上限 (底层资产单位)，0 表示不设上限
	SupplyCap decimal.Decimal `json:"supply_cap" yaml:"supply_cap"`

	// MaxUtilizationRate 借款后利用率不能超过该值，0 表示不限制
	MaxUtilizationRate decimal.Decimal `json:"max_utilization_rate" yaml:"max_utilization_rate"`

	// ProtocolSpread 协议从借款利息里抽成的比例
	ProtocolSpread decimal.Decimal `json:"protocol_spread" yaml:"protocol_spread"`

	// MinBorrow 单笔最小借款
	MinBorrow decimal.Decimal `json:"min_borrow" yaml:"min_borrow"`

	RateLimiter *RateLimiter `json:"rate_limiter,omitempty" yaml:"rate_limiter,omitempty"`
}

// State 池子快照 (PoolState)，每个资产一个池子
//
// 金额字段都是底层资产的最小单位 (已按 Decimals 放大)。
// 快照是不可变的输入，所有函数返回新值，不修改入参。
type State struct {
	PoolID   string `json:"pool_id" yaml:"pool_id"`
	Asset    string `json:"asset" yaml:"asset"`
	Decimals int32  `json:"decimals" yaml:"decimals"`

	TotalSupply  decimal.Decimal `json:"total_supply" yaml:"total_supply"`
	TotalBorrow  decimal.Decimal `json:"total_borrow" yaml:"total_borrow"`
	SupplyShares decimal.Decimal `json:"supply_shares" yaml:"supply_shares"`
	BorrowShares decimal.Decimal `json:"borrow_shares" yaml:"borrow_shares"`

	// ProtocolFees 已计提、尚未提走的协议收入
	ProtocolFees decimal.Decimal `json:"protocol_fees" yaml:"protocol_fees"`

	// LastUpdateTimestamp 上次计息时间 (毫秒)
	LastUpdateTimestamp int64 `json:"last_update_timestamp" yaml:"last_update_timestamp"`

	Interest rate.InterestConfig `json:"interest_config" yaml:"interest_config"`
	Config   Config              `json:"pool_config" yaml:"pool_config"`
}

// Metrics 池子的派生指标 (PoolAccountant 输出)
type Metrics struct {
	PoolID string `json:"pool_id" yaml:"pool_id"`
	Asset  string `json:"asset" yaml:"asset"`

	Utilization    decimal.Decimal `json:"utilization" yaml:"utilization"`
	UtilizationPct decimal.Decimal `json:"utilization_pct" yaml:"utilization_pct"`
	BorrowAprPct   decimal.Decimal `json:"borrow_apr_pct" yaml:"borrow_apr_pct"`
	SupplyAprPct   decimal.Decimal `json:"supply_apr_pct" yaml:"supply_apr_pct"`

	TotalSupply        decimal.Decimal `json:"total_supply" yaml:"total_supply"`
	TotalBorrow        decimal.Decimal `json:"total_borrow" yaml:"total_borrow"`
	AvailableLiquidity decimal.Decimal `json:"available_liquidity" yaml:"available_liquidity"`

	// SupplyRatio / BorrowRatio 每份额价值 (1e9 定点)
	SupplyRatio decimal.Decimal `json:"supply_ratio" yaml:"supply_ratio"`
	BorrowRatio decimal.Decimal `json:"borrow_ratio" yaml:"borrow_ratio"`

	AsOf int64 `json:"as_of" yaml:"as_of"`
}

// InterestEstimate 存款利息估算
type InterestEstimate struct {
	CurrentValue decimal.Decimal `json:"current_value" yaml:"current_value"`
	Principal    decimal.Decimal `json:"principal" yaml:"principal"`
	Earned       decimal.Decimal `json:"earned" yaml:"earned"`

	// Approximate 为 true 表示本金是按存入时 ratio = 1.0 推出来的，
	// 不是按历史份额价格回放得到的精确值
	Approximate bool `json:"approximate" yaml:"approximate"`
}
