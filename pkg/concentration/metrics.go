// 文件: pkg/concentration/metrics.go
// 集中度指标 (ConcentrationAnalyzer)
//
// HHI  = Σ (balance_i / total * 100)^2，取值 [0, 10000]
// Gini = 2 * Σ (i+1) * x_i / (n * Σ x) - (n+1)/n，x 升序排列，取值 [0, 1]
//
// 两个函数的结果都与输入顺序无关。

package concentration

import (
	"sort"

	"github.com/shopspring/decimal"

	"max.com/margin/pkg/fixed"
)

var (
	hundred = decimal.NewFromInt(100)
	maxHHI  = decimal.NewFromInt(10000)
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
)

// Herfindahl 赫芬达尔指数，只统计正余额
//
// 总额为 0 (空列表或全是 0) 时返回 0；只有一个正余额时为 10000。
func Herfindahl(balances []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		if b.IsPositive() {
			total = total.Add(b)
		}
	}
	if total.IsZero() {
		return decimal.Zero
	}

	hhi := decimal.Zero
	for _, b := range balances {
		if !b.IsPositive() {
			continue
		}
		share := b.Mul(hundred).Div(total)
		hhi = hhi.Add(share.Mul(share))
	}
	return fixed.Clamp(hhi, decimal.Zero, maxHHI)
}

// Gini 基尼系数
//
// 负余额按 0 处理；空列表或全是 0 时返回 0。
func Gini(balances []decimal.Decimal) decimal.Decimal {
	n := len(balances)
	if n == 0 {
		return decimal.Zero
	}

	xs := make([]decimal.Decimal, n)
	total := decimal.Zero
	for i, b := range balances {
		if b.IsNegative() {
			b = decimal.Zero
		}
		xs[i] = b
		total = total.Add(b)
	}
	if total.IsZero() {
		return decimal.Zero
	}
	sort.SliceStable(xs, func(i, j int) bool { return xs[i].LessThan(xs[j]) })

	weighted := decimal.Zero
	for i, x := range xs {
		weighted = weighted.Add(x.Mul(decimal.NewFromInt(int64(i + 1))))
	}

	nd := decimal.NewFromInt(int64(n))
	g := two.Mul(weighted).Div(nd.Mul(total)).Sub(nd.Add(one).Div(nd))
	return fixed.Clamp(g, decimal.Zero, one)
}

// TopShare 前 N 名合计占比
type TopShare struct {
	N   int             `json:"n"`
	Pct decimal.Decimal `json:"pct"`
}

// Report 一组余额的集中度报告
type Report struct {
	// Participants 余额为正的地址数
	Participants int             `json:"participants"`
	Total        decimal.Decimal `json:"total"`
	HHI          decimal.Decimal `json:"hhi"`
	Gini         decimal.Decimal `json:"gini"`
	TopShares    []TopShare      `json:"top_shares"`
}

// DefaultTopN 报告里默认统计的前 N 名
var DefaultTopN = []int{1, 5, 10}

// Analyze 汇总集中度指标
func Analyze(balances []ParticipantBalance) Report {
	amounts := Amounts(balances)
	positive := make([]decimal.Decimal, 0, len(amounts))
	total := decimal.Zero
	for _, v := range amounts {
		if v.IsPositive() {
			positive = append(positive, v)
			total = total.Add(v)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool { return positive[i].GreaterThan(positive[j]) })

	tops := make([]TopShare, 0, len(DefaultTopN))
	for _, n := range DefaultTopN {
		sum := decimal.Zero
		for i := 0; i < n && i < len(positive); i++ {
			sum = sum.Add(positive[i])
		}
		pct := decimal.Zero
		if total.IsPositive() {
			pct = sum.Mul(hundred).Div(total)
		}
		tops = append(tops, TopShare{N: n, Pct: pct})
	}

	return Report{
		Participants: len(positive),
		Total:        total,
		HHI:          Herfindahl(amounts),
		Gini:         Gini(amounts),
		TopShares:    tops,
	}
}
