// 文件: pkg/risk/shock/simulator.go
// 价格冲击模拟 (ShockSimulator)
//
// 假设 base 资产价格变动 pct%，quote 是稳定币价格不变:
//
//	baseAssetUSD' = baseAssetUSD * (1 + pct/100)
//	baseDebtUSD'  = baseDebtUSD  * (1 + pct/100)
//
// 对冲击后的仓位重新跑一遍 risk.Engine.Evaluate。

package shock

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/risk"
)

var (
	one         = decimal.NewFromInt(1)
	minMove     = decimal.NewFromInt(-100)
	defaultStep = []int64{-50, -40, -30, -20, -10, -5, 0, 5, 10, 20, 30, 40, 50}
)

// DefaultMoves 压力曲线默认的价格变动档位 (-50% ~ +50%)
func DefaultMoves() []decimal.Decimal {
	out := make([]decimal.Decimal, len(defaultStep))
	for i, s := range defaultStep {
		out[i] = decimal.NewFromInt(s)
	}
	return out
}

// Simulator 无状态，可以并发使用
type Simulator struct {
	engine *risk.Engine
}

// NewSimulator engine 为 nil 时使用默认引擎
func NewSimulator(engine *risk.Engine) *Simulator {
	if engine == nil {
		engine = risk.NewEngine()
	}
	return &Simulator{engine: engine}
}

// Shock 返回 base 价格变动 changePct% 之后的仓位，changePct < -100 非法
func Shock(p risk.Position, changePct decimal.Decimal) (risk.Position, error) {
	if changePct.LessThan(minMove) {
		return risk.Position{}, errs.InvalidAmount("price_change_pct", changePct)
	}
	factor := one.Add(fixed.FromPct(changePct))
	p.BaseAsset.USD = p.BaseAsset.USD.Mul(factor)
	p.BaseDebt.USD = p.BaseDebt.USD.Mul(factor)
	return p, nil
}

// Simulate 单个价格变动下的风险评估
//
// changePct == 0 直接返回 Evaluate 的结果。
func (s *Simulator) Simulate(p risk.Position, changePct decimal.Decimal) (risk.Result, error) {
	if changePct.IsZero() {
		return s.engine.Evaluate(p)
	}
	shocked, err := Shock(p, changePct)
	if err != nil {
		return risk.Result{}, err
	}
	return s.engine.Evaluate(shocked)
}

// Sweep 依次跑一组价格变动，结果顺序与 changes 一致
func (s *Simulator) Sweep(p risk.Position, changes []decimal.Decimal) ([]risk.Result, error) {
	out := make([]risk.Result, len(changes))
	for i, c := range changes {
		r, err := s.Simulate(p, c)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// SweepBatch 对多个仓位并发跑 Sweep
//
// 每个仓位互相独立，workers 限制同时运行的 goroutine 数 (<= 0 时不限制)。
// 任意一个仓位出错会取消其余任务并返回第一个错误。
// out[i] 对应 positions[i]。
func (s *Simulator) SweepBatch(ctx context.Context, positions []risk.Position, changes []decimal.Decimal, workers int) ([][]risk.Result, error) {
	out := make([][]risk.Result, len(positions))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range positions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.Sweep(positions[i], changes)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// 清算价格
// =============================================================================

// LiquidationMove 风险率恰好等于清算线时 base 价格的变动百分比
//
// 记 f = 1 + pct/100，求解:
//
//	(f*Ba + Qa) / (f*Bd + Qd) = T
//	f = (T*Qd - Qa) / (Ba - T*Bd)
//
// 分母为 0 (风险率不随价格变化)、f < 0 (需要价格跌穿 0) 或仓位没有负债时，
// 返回 ok = false。
func LiquidationMove(p risk.Position) (pct decimal.Decimal, ok bool, err error) {
	// 复用引擎的输入校验
	if _, err := risk.NewEngine().Evaluate(p); err != nil {
		return decimal.Zero, false, err
	}
	t := p.LiquidationThreshold
	ba, qa := p.BaseAsset.USD, p.QuoteAsset.USD
	bd, qd := p.BaseDebt.USD, p.QuoteDebt.USD

	if bd.Add(qd).IsZero() {
		return decimal.Zero, false, nil
	}
	denom := ba.Sub(t.Mul(bd))
	if denom.IsZero() {
		return decimal.Zero, false, nil
	}
	f := t.Mul(qd).Sub(qa).Div(denom)
	if f.IsNegative() {
		return decimal.Zero, false, nil
	}
	// f == 0 且没有 quote 负债时，冲击后负债为 0，风险率不存在
	if f.IsZero() && qd.IsZero() {
		return decimal.Zero, false, nil
	}
	return fixed.Pct(f.Sub(one)), true, nil
}
