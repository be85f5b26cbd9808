// 文件: pkg/store/mysql.go
// MySQL 历史记录 (gorm)
//
// 金额列用 decimal(65,18)，shopspring/decimal 直接实现了 Scanner / Valuer。

package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"max.com/margin/pkg/monitor"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/risk"
)

var _ monitor.ReportStore = (*MySQLRepository)(nil)

// PoolSnapshot 池子指标历史
type PoolSnapshot struct {
	ID                 uint64          `gorm:"primaryKey;autoIncrement"`
	PoolID             string          `gorm:"column:pool_id;type:varchar(66);not null;index:idx_pool_as_of,priority:1"`
	Asset              string          `gorm:"column:asset;type:varchar(32)"`
	UtilizationPct     decimal.Decimal `gorm:"column:utilization_pct;type:decimal(65,18);default:0"`
	BorrowAprPct       decimal.Decimal `gorm:"column:borrow_apr_pct;type:decimal(65,18);default:0"`
	SupplyAprPct       decimal.Decimal `gorm:"column:supply_apr_pct;type:decimal(65,18);default:0"`
	TotalSupply        decimal.Decimal `gorm:"column:total_supply;type:decimal(65,18);default:0"`
	TotalBorrow        decimal.Decimal `gorm:"column:total_borrow;type:decimal(65,18);default:0"`
	AvailableLiquidity decimal.Decimal `gorm:"column:available_liquidity;type:decimal(65,18);default:0"`
	AsOf               int64           `gorm:"column:as_of;index:idx_pool_as_of,priority:2"`
	CreatedAt          int64           `gorm:"column:created_at;autoCreateTime:milli"`
}

func (PoolSnapshot) TableName() string { return "margin_pool_snapshots" }

// RiskRecord 非 Safe 账户 (或等级变化) 的评估记录
type RiskRecord struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	AccountID     string          `gorm:"column:account_id;type:varchar(66);not null;index"`
	Market        string          `gorm:"column:market;type:varchar(64)"`
	CollateralUSD decimal.Decimal `gorm:"column:collateral_usd;type:decimal(65,18)"`
	DebtUSD       decimal.Decimal `gorm:"column:debt_usd;type:decimal(65,18)"`
	RiskRatio     decimal.Decimal `gorm:"column:risk_ratio;type:decimal(65,18)"`
	Threshold     decimal.Decimal `gorm:"column:threshold;type:decimal(65,18)"`
	Level         string          `gorm:"column:level;type:varchar(16)"`
	CreatedAt     int64           `gorm:"column:created_at;autoCreateTime:milli;index"`
}

func (RiskRecord) TableName() string { return "margin_risk_records" }

// LiquidationAlert 清算告警，主键是 snowflake id
type LiquidationAlert struct {
	ID            int64           `gorm:"primaryKey;autoIncrement:false"`
	AccountID     string          `gorm:"column:account_id;type:varchar(66);not null;index"`
	Market        string          `gorm:"column:market;type:varchar(64)"`
	RiskRatio     decimal.Decimal `gorm:"column:risk_ratio;type:decimal(65,18)"`
	Threshold     decimal.Decimal `gorm:"column:threshold;type:decimal(65,18)"`
	CollateralUSD decimal.Decimal `gorm:"column:collateral_usd;type:decimal(65,18)"`
	DebtUSD       decimal.Decimal `gorm:"column:debt_usd;type:decimal(65,18)"`
	RepayUSD      decimal.Decimal `gorm:"column:repay_usd;type:decimal(65,18)"`
	AlertedAt     int64           `gorm:"column:alerted_at;index"`
}

func (LiquidationAlert) TableName() string { return "margin_liquidation_alerts" }

// =============================================================================
// MySQLRepository
// =============================================================================

type MySQLRepository struct {
	db *gorm.DB
}

// OpenMySQL 连接数据库，关闭 gorm 自带的 SQL 日志
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// Migrate 建表
func (r *MySQLRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PoolSnapshot{}, &RiskRecord{}, &LiquidationAlert{})
}

func (r *MySQLRepository) SavePoolReport(ctx context.Context, m pool.Metrics) error {
	row := PoolSnapshot{
		PoolID:             m.PoolID,
		Asset:              m.Asset,
		UtilizationPct:     m.UtilizationPct,
		BorrowAprPct:       m.BorrowAprPct,
		SupplyAprPct:       m.SupplyAprPct,
		TotalSupply:        m.TotalSupply,
		TotalBorrow:        m.TotalBorrow,
		AvailableLiquidity: m.AvailableLiquidity,
		AsOf:               m.AsOf,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *MySQLRepository) SaveRiskResult(ctx context.Context, res risk.Result) error {
	row := RiskRecord{
		AccountID:     res.AccountID,
		Market:        res.Market,
		CollateralUSD: res.CollateralUSD,
		DebtUSD:       res.DebtUSD,
		RiskRatio:     res.RiskRatio,
		Threshold:     res.Threshold,
		Level:         res.Level.String(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *MySQLRepository) SaveAlert(ctx context.Context, a monitor.Alert) error {
	row := LiquidationAlert{
		ID:            a.ID,
		AccountID:     a.AccountID,
		Market:        a.Market,
		RiskRatio:     a.RiskRatio,
		Threshold:     a.Threshold,
		CollateralUSD: a.CollateralUSD,
		DebtUSD:       a.DebtUSD,
		RepayUSD:      a.RepayUSD,
		AlertedAt:     a.At.UnixMilli(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// PoolHistory 池子最近的 limit 条快照，新的在前
func (r *MySQLRepository) PoolHistory(ctx context.Context, poolID string, limit int) ([]PoolSnapshot, error) {
	var rows []PoolSnapshot
	err := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("as_of DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// AlertsByAccount 账户最近的 limit 条告警，新的在前
func (r *MySQLRepository) AlertsByAccount(ctx context.Context, accountID string, limit int) ([]LiquidationAlert, error) {
	var rows []LiquidationAlert
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("alerted_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
