package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxRiskRatio 没有负债时的风险率哨兵值
//
// 没有负债的账户风险率在数学上是无穷大，这里用一个足够大的有限值代替，
// 保证后续的比较、排序、序列化都不需要处理 Inf。
var MaxRiskRatio = decimal.NewFromInt(999)

// Valuation 一项余额及其 USD 估值
//
// 零值表示"没有这项余额"。Priced == false 且 Amount != 0 表示喂价缺失，
// 引擎会返回 ErrPriceUnavailable，而不是把它当成 0。
type Valuation struct {
	Amount decimal.Decimal `json:"amount"`
	USD    decimal.Decimal `json:"usd"`
	Priced bool            `json:"priced"`
}

// USD 只有 USD 估值的余额
func USD(v decimal.Decimal) Valuation {
	return Valuation{USD: v, Priced: true}
}

// Priced 数量 + 估值
func Priced(amount, usd decimal.Decimal) Valuation {
	return Valuation{Amount: amount, USD: usd, Priced: true}
}

// Unpriced 有数量但拿不到价格
func Unpriced(amount decimal.Decimal) Valuation {
	return Valuation{Amount: amount}
}

// Position 一个保证金账户在某个市场上的仓位
//
// 抵押品 = base + quote 余额，负债 = base + quote 借款。
// 杠杆账户借来的钱留在账户里，也算作抵押品。
type Position struct {
	AccountID string `json:"account_id"`
	Market    string `json:"market"`

	BaseAsset  Valuation `json:"base_asset"`
	QuoteAsset Valuation `json:"quote_asset"`
	BaseDebt   Valuation `json:"base_debt"`
	QuoteDebt  Valuation `json:"quote_debt"`

	// LiquidationThreshold 风险率低于等于该值即可被清算，例如 1.05
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
}

// Result 风险评估结果
type Result struct {
	AccountID string `json:"account_id"`
	Market    string `json:"market"`

	CollateralUSD decimal.Decimal `json:"collateral_usd"`
	DebtUSD       decimal.Decimal `json:"debt_usd"`

	// RiskRatio 健康度 = 抵押 / 负债，越低越危险
	RiskRatio decimal.Decimal `json:"risk_ratio"`
	Threshold decimal.Decimal `json:"threshold"`

	// DistanceToLiquidationPct 距离清算线的百分比，负数表示已经可清算
	DistanceToLiquidationPct decimal.Decimal `json:"distance_to_liquidation_pct"`

	IsLiquidatable bool  `json:"is_liquidatable"`
	Level          Level `json:"level"`
}

// PriceSnapshot 一个币种的 USD 价格快照
type PriceSnapshot struct {
	Symbol   string          `json:"symbol"`
	PriceUSD decimal.Decimal `json:"price_usd"`

	// Ts 喂价时间，零值表示不校验时效
	Ts time.Time `json:"ts,omitempty"`
}

// Stale 价格是否已经过期
func (p PriceSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if p.Ts.IsZero() || maxAge <= 0 {
		return false
	}
	return now.Sub(p.Ts) > maxAge
}

// Account 账户的原始余额 (币本位)，用 Price 换算成 Position
type Account struct {
	ID     string `json:"id"`
	Market string `json:"market"`

	BaseSymbol  string `json:"base_symbol"`
	QuoteSymbol string `json:"quote_symbol"`

	BaseAsset  decimal.Decimal `json:"base_asset"`
	QuoteAsset decimal.Decimal `json:"quote_asset"`
	BaseDebt   decimal.Decimal `json:"base_debt"`
	QuoteDebt  decimal.Decimal `json:"quote_debt"`

	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
}

// Symbols 账户依赖的币种，行情变化时用来判断哪些账户受影响
func (a Account) Symbols() []string {
	if a.BaseSymbol == a.QuoteSymbol {
		return []string{a.BaseSymbol}
	}
	return []string{a.BaseSymbol, a.QuoteSymbol}
}
