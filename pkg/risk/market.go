package risk

import (
	"github.com/shopspring/decimal"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
)

var one = decimal.NewFromInt(1)

// MarketRisk 单个杠杆市场的风控参数 (全部是风险率，不是百分比)
//
// 典型取值: 清算线 1.1，借款下限 1.25，提现下限 2.0，清算目标 1.25，清算奖励 0.02
type MarketRisk struct {
	LiquidationThreshold       decimal.Decimal `json:"liquidation_threshold" yaml:"liquidation_threshold"`
	MinBorrowRiskRatio         decimal.Decimal `json:"min_borrow_risk_ratio" yaml:"min_borrow_risk_ratio"`
	MinWithdrawRiskRatio       decimal.Decimal `json:"min_withdraw_risk_ratio" yaml:"min_withdraw_risk_ratio"`
	TargetLiquidationRiskRatio decimal.Decimal `json:"target_liquidation_risk_ratio" yaml:"target_liquidation_risk_ratio"`

	// LiquidationReward 清算人按偿还金额额外拿走的抵押品比例
	LiquidationReward decimal.Decimal `json:"liquidation_reward" yaml:"liquidation_reward"`
}

// Validate 校验市场参数
//
// 清算目标必须高于 1 + 奖励，否则清算只会让账户更不健康。
func (m MarketRisk) Validate() error {
	if !m.LiquidationThreshold.IsPositive() {
		return errs.MalformedConfig("liquidation_threshold must be > 0, got %s", m.LiquidationThreshold)
	}
	if m.MinBorrowRiskRatio.LessThan(m.LiquidationThreshold) {
		return errs.MalformedConfig("min_borrow_risk_ratio %s below liquidation_threshold %s", m.MinBorrowRiskRatio, m.LiquidationThreshold)
	}
	if m.MinWithdrawRiskRatio.LessThan(m.LiquidationThreshold) {
		return errs.MalformedConfig("min_withdraw_risk_ratio %s below liquidation_threshold %s", m.MinWithdrawRiskRatio, m.LiquidationThreshold)
	}
	if m.TargetLiquidationRiskRatio.LessThanOrEqual(m.LiquidationThreshold) {
		return errs.MalformedConfig("target_liquidation_risk_ratio %s must exceed liquidation_threshold %s", m.TargetLiquidationRiskRatio, m.LiquidationThreshold)
	}
	if m.LiquidationReward.IsNegative() || m.LiquidationReward.GreaterThanOrEqual(one) {
		return errs.MalformedConfig("liquidation_reward must be in [0,1), got %s", m.LiquidationReward)
	}
	if m.TargetLiquidationRiskRatio.LessThanOrEqual(one.Add(m.LiquidationReward)) {
		return errs.MalformedConfig("target_liquidation_risk_ratio %s must exceed 1 + reward", m.TargetLiquidationRiskRatio)
	}
	return nil
}

// Apply 用市场的清算线覆盖仓位上的清算线
func (m MarketRisk) Apply(p Position) Position {
	p.LiquidationThreshold = m.LiquidationThreshold
	return p
}

// CanBorrow 再借 amountUSD 之后风险率是否仍不低于借款下限
//
// 借来的资金留在账户里，抵押和负债同时增加 amountUSD。
// 返回借款后的风险率。
func (e *Engine) CanBorrow(p Position, m MarketRisk, amountUSD decimal.Decimal) (bool, decimal.Decimal, error) {
	if err := m.Validate(); err != nil {
		return false, decimal.Zero, err
	}
	if err := fixed.NonNegative("amount_usd", amountUSD); err != nil {
		return false, decimal.Zero, err
	}
	r, err := e.Evaluate(m.Apply(p))
	if err != nil {
		return false, decimal.Zero, err
	}
	debt := r.DebtUSD.Add(amountUSD)
	if debt.IsZero() {
		return true, MaxRiskRatio, nil
	}
	after := r.CollateralUSD.Add(amountUSD).Div(debt)
	return after.GreaterThanOrEqual(m.MinBorrowRiskRatio), after, nil
}

// CanWithdraw 提走 amountUSD 的抵押品之后风险率是否仍不低于提现下限
//
// 没有负债时只要求抵押品足够。
func (e *Engine) CanWithdraw(p Position, m MarketRisk, amountUSD decimal.Decimal) (bool, decimal.Decimal, error) {
	if err := m.Validate(); err != nil {
		return false, decimal.Zero, err
	}
	if err := fixed.NonNegative("amount_usd", amountUSD); err != nil {
		return false, decimal.Zero, err
	}
	r, err := e.Evaluate(m.Apply(p))
	if err != nil {
		return false, decimal.Zero, err
	}
	left := r.CollateralUSD.Sub(amountUSD)
	if left.IsNegative() {
		return false, decimal.Zero, nil
	}
	if r.DebtUSD.IsZero() {
		return true, MaxRiskRatio, nil
	}
	after := left.Div(r.DebtUSD)
	return after.GreaterThanOrEqual(m.MinWithdrawRiskRatio), after, nil
}

// LiquidationRepay 把可清算仓位拉回目标风险率需要偿还的负债 (USD)
//
// 清算人偿还 X 的负债，拿走 X * (1 + reward) 的抵押品:
//
//	(C - X*(1+reward)) / (D - X) = target
//	X = (target*D - C) / (target - 1 - reward)
//
// 结果不超过总负债；仓位不可清算时返回 0。
func (e *Engine) LiquidationRepay(p Position, m MarketRisk) (decimal.Decimal, error) {
	if err := m.Validate(); err != nil {
		return decimal.Zero, err
	}
	r, err := e.Evaluate(m.Apply(p))
	if err != nil {
		return decimal.Zero, err
	}
	if !r.IsLiquidatable {
		return decimal.Zero, nil
	}

	target := m.TargetLiquidationRiskRatio
	denom := target.Sub(one).Sub(m.LiquidationReward)
	repay := target.Mul(r.DebtUSD).Sub(r.CollateralUSD).Div(denom)
	return fixed.Clamp(repay, decimal.Zero, r.DebtUSD), nil
}
