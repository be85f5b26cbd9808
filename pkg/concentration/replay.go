package concentration

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/shares"
)

// EventKind 账本事件类型
type EventKind string

const (
	EventSupply      EventKind = "supply"
	EventWithdraw    EventKind = "withdraw"
	EventBorrow      EventKind = "borrow"
	EventRepay       EventKind = "repay"
	EventLiquidation EventKind = "liquidation"
)

// Side 事件属于存款侧还是借款侧
func (k EventKind) Side() (shares.Side, bool) {
	switch k {
	case EventSupply, EventWithdraw:
		return shares.SideSupply, true
	case EventBorrow, EventRepay, EventLiquidation:
		return shares.SideBorrow, true
	default:
		return 0, false
	}
}

// sign 事件对余额的方向: 存入/借出 +1，提走/偿还/清算 -1
func (k EventKind) sign() int {
	switch k {
	case EventSupply, EventBorrow:
		return 1
	case EventWithdraw, EventRepay, EventLiquidation:
		return -1
	default:
		return 0
	}
}

// Event 一条池子账本事件
type Event struct {
	PoolID    string          `json:"pool_id"`
	Kind      EventKind       `json:"kind"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"` // 毫秒
}

// ParticipantBalance 某个地址在一侧的净额
type ParticipantBalance struct {
	Address    string          `json:"address"`
	NetAmount  decimal.Decimal `json:"net_amount"`
	FirstSeen  int64           `json:"first_seen"`
	LastActive int64           `json:"last_active"`
}

// Replay 把事件折叠成每个地址的净额
//
// 只处理 side 一侧的事件，按时间戳稳定排序后累加。
// 地址第一次出现时创建，余额归零也不删除。结果按地址排序。
func Replay(events []Event, side shares.Side) ([]ParticipantBalance, error) {
	ordered := make([]Event, 0, len(events))
	for _, e := range events {
		s, ok := e.Kind.Side()
		if !ok || s != side {
			continue
		}
		if err := fixed.NonNegative("event.amount", e.Amount); err != nil {
			return nil, err
		}
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	byAddr := make(map[string]*ParticipantBalance)
	for _, e := range ordered {
		b, ok := byAddr[e.Address]
		if !ok {
			b = &ParticipantBalance{Address: e.Address, FirstSeen: e.Timestamp}
			byAddr[e.Address] = b
		}
		if e.Kind.sign() > 0 {
			b.NetAmount = b.NetAmount.Add(e.Amount)
		} else {
			b.NetAmount = b.NetAmount.Sub(e.Amount)
		}
		b.LastActive = e.Timestamp
	}

	out := make([]ParticipantBalance, 0, len(byAddr))
	for _, b := range byAddr {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Amounts 取出净额列表，给 Herfindahl / Gini 用
func Amounts(balances []ParticipantBalance) []decimal.Decimal {
	out := make([]decimal.Decimal, len(balances))
	for i, b := range balances {
		out[i] = b.NetAmount
	}
	return out
}

// =============================================================================
// 时间相关的分组
// =============================================================================

// Cohort 参与者分组
type Cohort string

const (
	// CohortNew 窗口内首次出现且仍有余额
	CohortNew Cohort = "new"
	// CohortActive 窗口内有操作且仍有余额
	CohortActive Cohort = "active"
	// CohortDormant 仍有余额但窗口内没有操作
	CohortDormant Cohort = "dormant"
	// CohortChurned 余额已经归零 (或为负)
	CohortChurned Cohort = "churned"
)

// CohortOf 计算单个参与者的分组，nowMs 由调用方给出
func CohortOf(b ParticipantBalance, nowMs int64, window time.Duration) Cohort {
	since := nowMs - window.Milliseconds()
	switch {
	case !b.NetAmount.IsPositive():
		return CohortChurned
	case b.FirstSeen >= since:
		return CohortNew
	case b.LastActive >= since:
		return CohortActive
	default:
		return CohortDormant
	}
}

// Classify 按分组归类，每组内保持输入顺序
func Classify(balances []ParticipantBalance, nowMs int64, window time.Duration) map[Cohort][]ParticipantBalance {
	out := map[Cohort][]ParticipantBalance{
		CohortNew:     {},
		CohortActive:  {},
		CohortDormant: {},
		CohortChurned: {},
	}
	for _, b := range balances {
		c := CohortOf(b, nowMs, window)
		out[c] = append(out[c], b)
	}
	return out
}
