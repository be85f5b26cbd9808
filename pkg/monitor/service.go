package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"max.com/margin/pkg/concentration"
	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/risk"
	"max.com/margin/pkg/risk/shock"
	"max.com/margin/pkg/shares"
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrUnknownPool    = errors.New("unknown pool")
)

// =============================================================================
// 接口定义
// =============================================================================

// AlertSink 清算告警的出口 (生产环境是 Kafka)
type AlertSink interface {
	SendAlert(ctx context.Context, a Alert) error
}

// ReportStore 评估结果的落地 (生产环境是 Redis + MySQL)
type ReportStore interface {
	SavePoolReport(ctx context.Context, m pool.Metrics) error
	SaveRiskResult(ctx context.Context, r risk.Result) error
	SaveAlert(ctx context.Context, a Alert) error
}

// Alert 一条清算告警
type Alert struct {
	ID        int64  `json:"id,string"`
	AccountID string `json:"account_id"`
	Market    string `json:"market"`

	RiskRatio     decimal.Decimal `json:"risk_ratio"`
	Threshold     decimal.Decimal `json:"threshold"`
	CollateralUSD decimal.Decimal `json:"collateral_usd"`
	DebtUSD       decimal.Decimal `json:"debt_usd"`

	// RepayUSD 把账户拉回清算目标需要偿还的负债，市场没配置时为 0
	RepayUSD decimal.Decimal `json:"repay_usd"`
	At       time.Time       `json:"at"`
}

// Options 监控服务的依赖，除 Engine 外都可以为空
type Options struct {
	Engine  *risk.Engine
	Markets map[string]risk.MarketRisk
	Sink    AlertSink
	Store   ReportStore
	Metrics *Metrics

	// NextID 告警 id 生成器 (snowflake)
	NextID func() int64
	Clock  func() time.Time

	// MaxPriceAge 超过该时长的价格视为缺失，0 表示不校验
	MaxPriceAge time.Duration
	// Workers 全量扫描的并发度
	Workers int
}

// RescanStats 一次全量扫描的统计
type RescanStats struct {
	Accounts  int           `json:"accounts"`
	Evaluated int64         `json:"evaluated"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// =============================================================================
// Service
// =============================================================================

// Service 保证金风险监控
//
// 职责:
// 1. 缓存行情推送过来的池子、价格和账户快照
// 2. 价格或账户变化时只重算受影响的账户
// 3. 定期全量扫描兜底
// 4. 账户进入可清算区间时发一次告警，离开后才会再次告警
type Service struct {
	opts  Options
	sim   *shock.Simulator
	index *RiskIndex
	log   *logrus.Entry

	mu       sync.RWMutex
	pools    map[string]pool.State
	prices   map[string]risk.PriceSnapshot
	accounts map[string]risk.Account
	events   map[string][]concentration.Event

	alertMu sync.Mutex
	alerted map[string]struct{}
}

// NewService 创建监控服务
func NewService(opts Options) *Service {
	if opts.Engine == nil {
		opts.Engine = risk.NewEngine()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Service{
		opts:     opts,
		sim:      shock.NewSimulator(opts.Engine),
		index:    NewRiskIndex(),
		log:      logger.WithComponent("monitor"),
		pools:    make(map[string]pool.State),
		prices:   make(map[string]risk.PriceSnapshot),
		accounts: make(map[string]risk.Account),
		events:   make(map[string][]concentration.Event),
		alerted:  make(map[string]struct{}),
	}
}

// Index 风险等级索引
func (s *Service) Index() *RiskIndex { return s.index }

// =============================================================================
// 行情推送
// =============================================================================

// HandlePool 接收池子快照，更新指标并落地池子报告
func (s *Service) HandlePool(ctx context.Context, st pool.State) error {
	if st.PoolID == "" {
		return errs.MalformedConfig("pool snapshot without pool_id")
	}
	m, err := pool.Snapshot(st)
	if err != nil {
		s.opts.Metrics.observeError(errKind(err))
		return err
	}

	s.mu.Lock()
	s.pools[st.PoolID] = st
	s.mu.Unlock()

	s.opts.Metrics.setPool(st.PoolID, m.Utilization.InexactFloat64(), fixed.FromPct(m.BorrowAprPct).InexactFloat64())
	if s.opts.Store != nil {
		if err := s.opts.Store.SavePoolReport(ctx, m); err != nil {
			s.opts.Metrics.observeError("store")
			return err
		}
	}
	return nil
}

// HandlePrice 接收价格，重算所有依赖该币种的账户
//
// 单个账户的失败只记日志，不影响其它账户。
func (s *Service) HandlePrice(ctx context.Context, p risk.PriceSnapshot) error {
	if p.Symbol == "" {
		return errs.MalformedConfig("price snapshot without symbol")
	}
	if !p.PriceUSD.IsPositive() {
		return errs.InvalidAmount("price_usd", p.PriceUSD)
	}

	s.mu.Lock()
	s.prices[p.Symbol] = p
	s.mu.Unlock()

	for _, id := range s.index.AccountsBySymbol(p.Symbol) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Evaluate(ctx, id); err != nil {
			s.log.WithFields(logger.Fields{"account": id, "symbol": p.Symbol}).WithError(err).Warn("re-evaluation failed")
		}
	}
	return nil
}

// HandleAccount 接收账户余额并立即评估
func (s *Service) HandleAccount(ctx context.Context, a risk.Account) (risk.Result, error) {
	if a.ID == "" {
		return risk.Result{}, errs.MalformedConfig("account snapshot without id")
	}
	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()

	s.index.Track(a.ID, a.Symbols())
	return s.Evaluate(ctx, a.ID)
}

// HandleLedgerEvent 记录一条池子账本事件，用于集中度报告
func (s *Service) HandleLedgerEvent(_ context.Context, e concentration.Event) error {
	if e.PoolID == "" || e.Address == "" {
		return errs.MalformedConfig("ledger event needs pool_id and address")
	}
	if _, ok := e.Kind.Side(); !ok {
		return errs.MalformedConfig("unknown ledger event kind %q", e.Kind)
	}
	if err := fixed.NonNegative("amount", e.Amount); err != nil {
		return err
	}

	s.mu.Lock()
	s.events[e.PoolID] = append(s.events[e.PoolID], e)
	s.mu.Unlock()
	return nil
}

// =============================================================================
// 评估
// =============================================================================

// Evaluate 用缓存里的最新数据评估一个账户，并更新索引
func (s *Service) Evaluate(ctx context.Context, accountID string) (risk.Result, error) {
	pos, market, hasMarket, err := s.position(accountID)
	if err != nil {
		s.evaluateFailed(accountID, err)
		return risk.Result{}, err
	}

	res, err := s.opts.Engine.Evaluate(pos)
	if err != nil {
		s.evaluateFailed(accountID, err)
		return risk.Result{}, err
	}
	s.opts.Metrics.observeEvaluation(res.Level)

	now := s.opts.Clock()
	prev := s.index.Update(Entry{
		AccountID: res.AccountID,
		Market:    res.Market,
		Result:    res,
		UpdatedAt: now.UnixMilli(),
	})
	if prev != res.Level {
		s.log.WithFields(logger.Fields{
			"account":    accountID,
			"from":       prev.String(),
			"to":         res.Level.String(),
			"risk_ratio": res.RiskRatio.StringFixed(4),
		}).Info("risk level changed")
	}

	if s.opts.Store != nil && (res.Level != risk.LevelSafe || prev != res.Level) {
		if err := s.opts.Store.SaveRiskResult(ctx, res); err != nil {
			s.opts.Metrics.observeError("store")
			s.log.WithField("account", accountID).WithError(err).Warn("save risk result failed")
		}
	}

	if !res.IsLiquidatable {
		s.clearAlert(accountID)
		return res, nil
	}
	if err := s.raiseAlert(ctx, pos, res, market, hasMarket, now); err != nil {
		return res, err
	}
	return res, nil
}

// evaluateFailed 价格缺失或过期时索引里的结果不再可信
//
// 保留最后已知的等级并标记 Stale，同时结束当前的告警周期，
// 价格恢复后如果仍可清算会重新告警。
func (s *Service) evaluateFailed(accountID string, err error) {
	s.opts.Metrics.observeError(errKind(err))
	if !errors.Is(err, errs.ErrPriceUnavailable) {
		return
	}
	if s.index.MarkStale(accountID) {
		s.log.WithField("account", accountID).WithError(err).Warn("risk data stale")
	}
	s.clearAlert(accountID)
}

// position 取账户和价格，换算成 USD 仓位并套用市场清算线
//
// 过期价格当作缺失处理。
func (s *Service) position(accountID string) (risk.Position, risk.MarketRisk, bool, error) {
	s.mu.RLock()
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.RUnlock()
		return risk.Position{}, risk.MarketRisk{}, false, ErrUnknownAccount
	}
	now := s.opts.Clock()
	prices := make(map[string]risk.PriceSnapshot, 2)
	for _, sym := range a.Symbols() {
		if p, ok := s.prices[sym]; ok && !p.Stale(now, s.opts.MaxPriceAge) {
			prices[sym] = p
		}
	}
	s.mu.RUnlock()

	pos, err := risk.Price(a, prices)
	if err != nil {
		return risk.Position{}, risk.MarketRisk{}, false, err
	}
	m, hasMarket := s.opts.Markets[a.Market]
	if hasMarket {
		pos = m.Apply(pos)
	}
	return pos, m, hasMarket, nil
}

func (s *Service) raiseAlert(ctx context.Context, pos risk.Position, res risk.Result, m risk.MarketRisk, hasMarket bool, now time.Time) error {
	s.alertMu.Lock()
	if _, done := s.alerted[res.AccountID]; done {
		s.alertMu.Unlock()
		return nil
	}
	s.alerted[res.AccountID] = struct{}{}
	s.alertMu.Unlock()

	repay := decimal.Zero
	if hasMarket {
		r, err := s.opts.Engine.LiquidationRepay(pos, m)
		if err != nil {
			s.log.WithField("account", res.AccountID).WithError(err).Warn("liquidation sizing failed")
		} else {
			repay = r
		}
	}

	a := Alert{
		AccountID:     res.AccountID,
		Market:        res.Market,
		RiskRatio:     res.RiskRatio,
		Threshold:     res.Threshold,
		CollateralUSD: res.CollateralUSD,
		DebtUSD:       res.DebtUSD,
		RepayUSD:      repay,
		At:            now,
	}
	if s.opts.NextID != nil {
		a.ID = s.opts.NextID()
	}

	if s.opts.Sink != nil {
		if err := s.opts.Sink.SendAlert(ctx, a); err != nil {
			// 发送失败下次评估重试
			s.clearAlert(res.AccountID)
			s.opts.Metrics.observeError("alert_sink")
			return err
		}
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.SaveAlert(ctx, a); err != nil {
			s.opts.Metrics.observeError("store")
			s.log.WithField("account", res.AccountID).WithError(err).Warn("save alert failed")
		}
	}
	s.opts.Metrics.observeAlert()
	s.log.WithFields(logger.Fields{
		"account":    a.AccountID,
		"market":     a.Market,
		"risk_ratio": a.RiskRatio.StringFixed(4),
		"repay_usd":  a.RepayUSD.StringFixed(2),
	}).Warn("account liquidatable")
	return nil
}

func (s *Service) clearAlert(accountID string) {
	s.alertMu.Lock()
	delete(s.alerted, accountID)
	s.alertMu.Unlock()
}

// errKind 指标里的错误类型标签
func errKind(err error) string {
	switch {
	case errors.Is(err, errs.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, errs.ErrDivisionGuard):
		return "division_guard"
	case errors.Is(err, errs.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, errs.ErrMalformedConfig):
		return "malformed_config"
	case errors.Is(err, ErrUnknownAccount):
		return "unknown_account"
	default:
		return "other"
	}
}

// =============================================================================
// 全量扫描
// =============================================================================

// Rescan 分片并发重算所有账户
//
// 单个账户失败计入 Failed，不会中断扫描；只有 ctx 取消才返回错误。
func (s *Service) Rescan(ctx context.Context) (RescanStats, error) {
	start := s.opts.Clock()

	s.mu.RLock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	var evaluated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	shardSize := (len(ids) + s.opts.Workers - 1) / s.opts.Workers
	for lo := 0; lo < len(ids); lo += shardSize {
		shard := ids[lo:min(lo+shardSize, len(ids))]
		g.Go(func() error {
			for _, id := range shard {
				if err := gctx.Err(); err != nil {
					return err
				}
				if _, err := s.Evaluate(gctx, id); err != nil {
					failed.Add(1)
					continue
				}
				evaluated.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	stats := RescanStats{
		Accounts:  len(ids),
		Evaluated: evaluated.Load(),
		Failed:    failed.Load(),
		Duration:  s.opts.Clock().Sub(start),
	}
	s.opts.Metrics.setLevels(s.index.Counts())
	s.opts.Metrics.setStale(s.index.StaleCount())
	s.opts.Metrics.observeRescan(stats.Duration.Seconds())
	return stats, err
}

// Run 按 interval 定期全量扫描，直到 ctx 取消
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errs.MalformedConfig("rescan interval must be > 0, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithField("interval", interval.String()).Info("monitor started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("monitor stopped")
			return nil
		case <-ticker.C:
			stats, err := s.Rescan(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			s.log.WithFields(logger.Fields{
				"accounts":  stats.Accounts,
				"evaluated": stats.Evaluated,
				"failed":    stats.Failed,
				"took":      stats.Duration.String(),
			}).Debug("rescan finished")
		}
	}
}

// =============================================================================
// 报告
// =============================================================================

// PoolReport 池子在 nowMs 时刻的指标 (含未入账利息)
func (s *Service) PoolReport(poolID string, nowMs int64) (pool.Metrics, error) {
	s.mu.RLock()
	st, ok := s.pools[poolID]
	s.mu.RUnlock()
	if !ok {
		return pool.Metrics{}, ErrUnknownPool
	}
	return pool.SnapshotAt(st, nowMs)
}

// ConcentrationReport 一个池子一侧的集中度和分组
type ConcentrationReport struct {
	PoolID string               `json:"pool_id"`
	Side   string               `json:"side"`
	AsOf   int64                `json:"as_of"`
	Window time.Duration        `json:"window"`
	Report concentration.Report `json:"report"`

	Cohorts map[concentration.Cohort]int `json:"cohorts"`
}

// ConcentrationReport 回放池子账本事件计算集中度
func (s *Service) ConcentrationReport(poolID string, side shares.Side, nowMs int64, window time.Duration) (ConcentrationReport, error) {
	s.mu.RLock()
	events, ok := s.events[poolID]
	events = append([]concentration.Event(nil), events...)
	s.mu.RUnlock()
	if !ok {
		return ConcentrationReport{}, ErrUnknownPool
	}

	balances, err := concentration.Replay(events, side)
	if err != nil {
		return ConcentrationReport{}, err
	}
	cohorts := make(map[concentration.Cohort]int)
	for c, members := range concentration.Classify(balances, nowMs, window) {
		cohorts[c] = len(members)
	}
	return ConcentrationReport{
		PoolID:  poolID,
		Side:    side.String(),
		AsOf:    nowMs,
		Window:  window,
		Report:  concentration.Analyze(balances),
		Cohorts: cohorts,
	}, nil
}

// StressReport 一个账户在一组价格冲击下的结果
type StressReport struct {
	Base    risk.Result       `json:"base"`
	Moves   []decimal.Decimal `json:"moves"`
	Results []risk.Result     `json:"results"`

	// LiquidationMovePct base 资产涨跌多少会触发清算，Reachable 为 false 时无意义
	LiquidationMovePct decimal.Decimal `json:"liquidation_move_pct"`
	Reachable          bool            `json:"reachable"`
}

// StressReport 对账户做价格冲击测试，moves 为空时用默认的 -50%..+50%
func (s *Service) StressReport(accountID string, moves []decimal.Decimal) (StressReport, error) {
	pos, _, _, err := s.position(accountID)
	if err != nil {
		return StressReport{}, err
	}
	if len(moves) == 0 {
		moves = shock.DefaultMoves()
	}
	base, err := s.opts.Engine.Evaluate(pos)
	if err != nil {
		return StressReport{}, err
	}
	results, err := s.sim.Sweep(pos, moves)
	if err != nil {
		return StressReport{}, err
	}
	pct, ok, err := shock.LiquidationMove(pos)
	if err != nil {
		return StressReport{}, err
	}
	return StressReport{
		Base:               base,
		Moves:              moves,
		Results:            results,
		LiquidationMovePct: pct,
		Reachable:          ok,
	}, nil
}
