package monitor

import (
	"sort"
	"sync"
	"sync/atomic"

	"max.com/margin/pkg/risk"
)

// =============================================================================
// CowMap - Copy-on-Write Map
// =============================================================================

// CowMap Copy-on-Write Map
//
// 核心特性:
// 1. 读操作完全无锁 (Lock-Free Read)
// 2. 写操作会加锁，但不阻塞读操作
// 3. 适用于读多写少的场景
//
// 写入时先复制一份旧 Map，在副本上修改，然后原子替换指针。
// 写操作会复制整个 Map，只适合规模在几千条以内的索引
// (需要关注的高风险账户通常只有几百到几千)。
type CowMap[K comparable, V any] struct {
	data    atomic.Pointer[map[K]V]
	writeMu sync.Mutex
}

// NewCowMap 创建新的 CowMap
func NewCowMap[K comparable, V any]() *CowMap[K, V] {
	m := &CowMap[K, V]{}
	empty := make(map[K]V)
	m.data.Store(&empty)
	return m
}

// Get 无锁读取，读到的是调用时的快照
func (m *CowMap[K, V]) Get(k K) (V, bool) {
	v, ok := (*m.data.Load())[k]
	return v, ok
}

// Values 所有值的快照
func (m *CowMap[K, V]) Values() []V {
	cur := m.data.Load()
	out := make([]V, 0, len(*cur))
	for _, v := range *cur {
		out = append(out, v)
	}
	return out
}

// Keys 所有 key 的快照
func (m *CowMap[K, V]) Keys() []K {
	cur := m.data.Load()
	out := make([]K, 0, len(*cur))
	for k := range *cur {
		out = append(out, k)
	}
	return out
}

func (m *CowMap[K, V]) Len() int { return len(*m.data.Load()) }

func (m *CowMap[K, V]) Contains(k K) bool {
	_, ok := (*m.data.Load())[k]
	return ok
}

// BatchUpdate 批量写入和删除，读者要么看到旧数据，要么看到新数据
//
// 先删除再更新，避免删掉同一批新增的数据。
func (m *CowMap[K, V]) BatchUpdate(updates map[K]V, removes []K) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	old := m.data.Load()
	next := make(map[K]V, len(*old)+len(updates))
	for k, v := range *old {
		next[k] = v
	}
	for _, k := range removes {
		delete(next, k)
	}
	for k, v := range updates {
		next[k] = v
	}
	m.data.Store(&next)
}

// Set 单条写入，频繁调用会产生大量复制，批量场景用 BatchUpdate
func (m *CowMap[K, V]) Set(k K, v V) {
	m.BatchUpdate(map[K]V{k: v}, nil)
}

// Remove 单条删除
func (m *CowMap[K, V]) Remove(k K) {
	m.BatchUpdate(nil, []K{k})
}

// =============================================================================
// RiskIndex - 风险等级索引
// =============================================================================

// Entry 索引里保存的一条账户风险数据
type Entry struct {
	AccountID string      `json:"account_id"`
	Market    string      `json:"market"`
	Result    risk.Result `json:"result"`
	UpdatedAt int64       `json:"updated_at"` // 毫秒，最后一次成功评估

	// Stale 之后的评估拿不到有效价格，Result 是最后已知的结果
	Stale bool `json:"stale"`
}

// RiskIndex 按风险等级分桶的账户索引
//
// 结构:
//
//	levels[0] = Warning
//	levels[1] = Danger
//	levels[2] = Critical
//	levels[3] = Liquidatable
//
// Safe 账户数量太多且不需要频繁检查，不进索引。
// bySymbol 记录所有账户 (包括 Safe) 依赖的币种，行情变化时只重算受影响的账户。
type RiskIndex struct {
	levels   [4]*CowMap[string, Entry]
	bySymbol *CowMap[string, []string]
	levelOf  *CowMap[string, risk.Level]

	// updateMu 保证 levelOf 和分桶一起变化
	updateMu sync.Mutex
	// symbolMu 保护 bySymbol 的读-改-写
	symbolMu sync.Mutex
}

// NewRiskIndex 创建新的风险等级索引
func NewRiskIndex() *RiskIndex {
	idx := &RiskIndex{
		bySymbol: NewCowMap[string, []string](),
		levelOf:  NewCowMap[string, risk.Level](),
	}
	for i := range idx.levels {
		idx.levels[i] = NewCowMap[string, Entry]()
	}
	return idx
}

// levelToIndex 将 Level 转换为 levels 数组的索引
func levelToIndex(level risk.Level) int {
	switch level {
	case risk.LevelWarning:
		return 0
	case risk.LevelDanger:
		return 1
	case risk.LevelCritical:
		return 2
	case risk.LevelLiquidatable:
		return 3
	default:
		return -1
	}
}

// Update 写入一次评估结果，等级变化时自动迁移分桶
//
// 返回账户之前的等级 (不存在时为 Safe)。
func (idx *RiskIndex) Update(e Entry) risk.Level {
	idx.updateMu.Lock()
	defer idx.updateMu.Unlock()

	prev, _ := idx.levelOf.Get(e.AccountID)
	next := e.Result.Level

	if pi := levelToIndex(prev); pi >= 0 && prev != next {
		idx.levels[pi].Remove(e.AccountID)
	}
	if ni := levelToIndex(next); ni >= 0 {
		idx.levels[ni].Set(e.AccountID, e)
		idx.levelOf.Set(e.AccountID, next)
	} else {
		idx.levelOf.Remove(e.AccountID)
	}
	return prev
}

// Get 查找账户 (Safe 账户不在索引里)
func (idx *RiskIndex) Get(accountID string) (Entry, bool) {
	level, ok := idx.levelOf.Get(accountID)
	if !ok {
		return Entry{}, false
	}
	return idx.levels[levelToIndex(level)].Get(accountID)
}

// MarkStale 把账户标记为数据过期，保留最后已知的等级
//
// 账户不在索引里 (Safe) 时返回 false。
func (idx *RiskIndex) MarkStale(accountID string) bool {
	idx.updateMu.Lock()
	defer idx.updateMu.Unlock()

	level, ok := idx.levelOf.Get(accountID)
	if !ok {
		return false
	}
	bucket := idx.levels[levelToIndex(level)]
	e, ok := bucket.Get(accountID)
	if !ok {
		return false
	}
	if !e.Stale {
		e.Stale = true
		bucket.Set(accountID, e)
	}
	return true
}

// StaleCount 数据过期的账户数
func (idx *RiskIndex) StaleCount() int {
	n := 0
	for _, l := range idx.levels {
		for _, e := range l.Values() {
			if e.Stale {
				n++
			}
		}
	}
	return n
}

// Level 账户最后已知的等级，是否过期看 Get 返回的 Stale
func (idx *RiskIndex) Level(accountID string) risk.Level {
	level, ok := idx.levelOf.Get(accountID)
	if !ok {
		return risk.LevelSafe
	}
	return level
}

// ByLevel 某个等级的所有账户，按风险率从低到高排序 (越靠前越危险)
func (idx *RiskIndex) ByLevel(level risk.Level) []Entry {
	i := levelToIndex(level)
	if i < 0 {
		return nil
	}
	out := idx.levels[i].Values()
	sort.Slice(out, func(a, b int) bool {
		if c := out[a].Result.RiskRatio.Cmp(out[b].Result.RiskRatio); c != 0 {
			return c < 0
		}
		return out[a].AccountID < out[b].AccountID
	})
	return out
}

// Counts 每个等级的账户数
func (idx *RiskIndex) Counts() map[risk.Level]int {
	return map[risk.Level]int{
		risk.LevelWarning:      idx.levels[0].Len(),
		risk.LevelDanger:       idx.levels[1].Len(),
		risk.LevelCritical:     idx.levels[2].Len(),
		risk.LevelLiquidatable: idx.levels[3].Len(),
	}
}

// TotalCount 所有等级的账户总数
func (idx *RiskIndex) TotalCount() int {
	total := 0
	for _, l := range idx.levels {
		total += l.Len()
	}
	return total
}

// Track 记录账户依赖的币种
func (idx *RiskIndex) Track(accountID string, symbols []string) {
	idx.symbolMu.Lock()
	defer idx.symbolMu.Unlock()

	updates := make(map[string][]string)
	for _, s := range symbols {
		ids, _ := idx.bySymbol.Get(s)
		if containsString(ids, accountID) {
			continue
		}
		next := make([]string, len(ids), len(ids)+1)
		copy(next, ids)
		updates[s] = append(next, accountID)
	}
	if len(updates) > 0 {
		idx.bySymbol.BatchUpdate(updates, nil)
	}
}

// AccountsBySymbol 依赖该币种的账户
func (idx *RiskIndex) AccountsBySymbol(symbol string) []string {
	ids, _ := idx.bySymbol.Get(symbol)
	return ids
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
