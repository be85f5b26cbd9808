package risk

import (
	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
)

// Engine 是风险引擎对象。
// 你可以把它理解成"一个计算器"：
// 输入 Position → 输出 Result，没有任何内部状态，可以并发调用。
type Engine struct {
	bands Bands
}

// NewEngine 使用默认分档创建引擎
func NewEngine() *Engine { return &Engine{bands: DefaultBands()} }

// NewEngineWithBands 使用自定义分档创建引擎
func NewEngineWithBands(b Bands) (*Engine, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &Engine{bands: b}, nil
}

// Bands 引擎使用的分档
func (e *Engine) Bands() Bands { return e.bands }

// Evaluate 核心风控入口
//
//	collateralUSD = baseAssetUSD + quoteAssetUSD
//	debtUSD       = baseDebtUSD + quoteDebtUSD
//	riskRatio     = debtUSD > 0 ? collateralUSD / debtUSD : 999
//	distance      = (riskRatio - threshold) / threshold * 100
//
// 风险率恰好等于清算线时判定为可清算 (闭区间)。
func (e *Engine) Evaluate(p Position) (Result, error) {
	// 1. 基础校验
	if !p.LiquidationThreshold.IsPositive() {
		return Result{}, errs.MalformedConfig("liquidation_threshold must be > 0, got %s", p.LiquidationThreshold)
	}

	legs := [...]struct {
		name string
		v    Valuation
	}{
		{"base_asset", p.BaseAsset},
		{"quote_asset", p.QuoteAsset},
		{"base_debt", p.BaseDebt},
		{"quote_debt", p.QuoteDebt},
	}
	for _, leg := range legs {
		if err := checkValuation(leg.name, leg.v); err != nil {
			return Result{}, err
		}
	}

	// 2. 汇总
	collateral := p.BaseAsset.USD.Add(p.QuoteAsset.USD)
	debt := p.BaseDebt.USD.Add(p.QuoteDebt.USD)

	// 3. 风险率
	ratio := MaxRiskRatio
	if debt.IsPositive() {
		ratio = collateral.Div(debt)
	}
	threshold := p.LiquidationThreshold
	distance := fixed.Pct(ratio.Sub(threshold).Div(threshold))

	out := Result{
		AccountID:                p.AccountID,
		Market:                   p.Market,
		CollateralUSD:            collateral,
		DebtUSD:                  debt,
		RiskRatio:                ratio,
		Threshold:                threshold,
		DistanceToLiquidationPct: distance,
		IsLiquidatable:           debt.IsPositive() && ratio.LessThanOrEqual(threshold),
	}
	out.Level = e.bands.Classify(out)
	return out, nil
}

// checkValuation 负数是非法输入；有数量但没价格是喂价缺失
func checkValuation(name string, v Valuation) error {
	if err := fixed.NonNegative(name+".amount", v.Amount); err != nil {
		return err
	}
	if !v.Priced {
		if !v.Amount.IsZero() || !v.USD.IsZero() {
			return errs.PriceUnavailable(name)
		}
		return nil
	}
	return fixed.NonNegative(name+".usd", v.USD)
}

// =============================================================================
// 估值
// =============================================================================

// Price 用一组价格快照把账户余额换算成 USD 仓位
//
// 非零余额找不到价格 (或价格 <= 0) 时返回 ErrPriceUnavailable。
// 零余额不需要价格。
func Price(a Account, prices map[string]PriceSnapshot) (Position, error) {
	base, err := value(a.BaseSymbol, "base_asset", a.BaseAsset, prices)
	if err != nil {
		return Position{}, err
	}
	quote, err := value(a.QuoteSymbol, "quote_asset", a.QuoteAsset, prices)
	if err != nil {
		return Position{}, err
	}
	baseDebt, err := value(a.BaseSymbol, "base_debt", a.BaseDebt, prices)
	if err != nil {
		return Position{}, err
	}
	quoteDebt, err := value(a.QuoteSymbol, "quote_debt", a.QuoteDebt, prices)
	if err != nil {
		return Position{}, err
	}
	return Position{
		AccountID:            a.ID,
		Market:               a.Market,
		BaseAsset:            base,
		QuoteAsset:           quote,
		BaseDebt:             baseDebt,
		QuoteDebt:            quoteDebt,
		LiquidationThreshold: a.LiquidationThreshold,
	}, nil
}

func value(symbol, field string, amount decimal.Decimal, prices map[string]PriceSnapshot) (Valuation, error) {
	if err := fixed.NonNegative(field, amount); err != nil {
		return Valuation{}, err
	}
	if amount.IsZero() {
		return Priced(decimal.Zero, decimal.Zero), nil
	}
	snap, ok := prices[symbol]
	if !ok || !snap.PriceUSD.IsPositive() {
		return Valuation{}, errs.PriceUnavailable(symbol)
	}
	return Priced(amount, amount.Mul(snap.PriceUSD)), nil
}
