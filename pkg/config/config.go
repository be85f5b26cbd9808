// 文件: pkg/config/config.go
// YAML 配置
//
// 池子的利率曲线、风控参数、市场的清算参数，以及监控服务依赖的
// NATS / Kafka / Redis / MySQL 地址都放在一个文件里。
// 文件内容支持 ${ENV} 占位符，加载前先展开环境变量 (.env 由 godotenv 载入)。

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/fixed"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/rate"
	"max.com/margin/pkg/risk"
)

// 利率参数的书写方式
const (
	RateFormatFraction = "fraction" // 0.02 表示 2%
	RateFormatPercent  = "percent"  // 2 表示 2%
	RateFormatScaled   = "scaled"   // 20_000_000 表示 2% (1e9 定点)
)

type Config struct {
	Service ServiceConfig  `yaml:"service"`
	Log     logger.Options `yaml:"log"`

	Pools   []PoolConfig   `yaml:"pools"`
	Markets []MarketConfig `yaml:"markets"`
	Bands   *risk.Bands    `yaml:"bands,omitempty"`

	Monitor MonitorConfig `yaml:"monitor"`
	NATS    NATSConfig    `yaml:"nats"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Redis   RedisConfig   `yaml:"redis"`
	MySQL   MySQLConfig   `yaml:"mysql"`
}

type ServiceConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

// PoolConfig 一个借贷池的静态参数
type PoolConfig struct {
	ID         string              `yaml:"id"`
	Asset      string              `yaml:"asset"`
	Decimals   int32               `yaml:"decimals"`
	RateFormat string              `yaml:"rate_format"`
	Interest   rate.InterestConfig `yaml:"interest"`
	Risk       pool.Config         `yaml:"risk"`
}

// MarketConfig 一个杠杆市场 (base/quote 各对应一个借贷池)
type MarketConfig struct {
	ID          string          `yaml:"id"`
	BaseSymbol  string          `yaml:"base_symbol"`
	QuoteSymbol string          `yaml:"quote_symbol"`
	BasePool    string          `yaml:"base_pool"`
	QuotePool   string          `yaml:"quote_pool"`
	Risk        risk.MarketRisk `yaml:"risk"`
}

type MonitorConfig struct {
	RescanInterval      time.Duration `yaml:"rescan_interval"`
	Workers             int           `yaml:"workers"`
	MaxPriceAge         time.Duration `yaml:"max_price_age"`
	ConcentrationWindow time.Duration `yaml:"concentration_window"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	NodeID              int64         `yaml:"node_id"` // 每个实例唯一: snowflake 节点号和账本消费者组后缀
}

type NATSConfig struct {
	URL            string `yaml:"url"`
	PoolSubject    string `yaml:"pool_subject"`
	PriceSubject   string `yaml:"price_subject"`
	AccountSubject string `yaml:"account_subject"`
	ReportSubject  string `yaml:"report_subject"`
	Queue          string `yaml:"queue"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	AlertTopic  string   `yaml:"alert_topic"`
	LedgerTopic string   `yaml:"ledger_topic"`
	GroupID     string   `yaml:"group_id"`
	Compression string   `yaml:"compression"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// Load 读取并校验配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML，展开环境变量，填默认值，归一化利率并校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errs.MalformedConfig("cannot parse YAML: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "margin-monitor"
	}
	if c.Monitor.RescanInterval <= 0 {
		c.Monitor.RescanInterval = 5 * time.Second
	}
	if c.Monitor.Workers <= 0 {
		c.Monitor.Workers = 8
	}
	if c.Monitor.ConcentrationWindow <= 0 {
		c.Monitor.ConcentrationWindow = 7 * 24 * time.Hour
	}
	if c.Monitor.MetricsAddr == "" {
		c.Monitor.MetricsAddr = ":9100"
	}
	if c.Monitor.NodeID == 0 {
		c.Monitor.NodeID = 1
	}
	if c.NATS.PoolSubject == "" {
		c.NATS.PoolSubject = "margin.pool"
	}
	if c.NATS.PriceSubject == "" {
		c.NATS.PriceSubject = "margin.price"
	}
	if c.NATS.AccountSubject == "" {
		c.NATS.AccountSubject = "margin.account"
	}
	if c.NATS.ReportSubject == "" {
		c.NATS.ReportSubject = "margin.report"
	}
	if c.Kafka.AlertTopic == "" {
		c.Kafka.AlertTopic = "margin.liquidation.alerts"
	}
	if c.Kafka.LedgerTopic == "" {
		c.Kafka.LedgerTopic = "margin.ledger.events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = c.Service.Name
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "margin"
	}
	for i := range c.Pools {
		if c.Pools[i].RateFormat == "" {
			c.Pools[i].RateFormat = RateFormatFraction
		}
	}
}

// normalize 把百分比 / 定点写法的利率统一成小数
func (c *Config) normalize() error {
	for i := range c.Pools {
		p := &c.Pools[i]
		switch p.RateFormat {
		case RateFormatFraction:
		case RateFormatPercent:
			p.Interest = rate.FromPercent(p.Interest)
		case RateFormatScaled:
			scaled, err := rate.FromScaled(p.Interest, fixed.One)
			if err != nil {
				return err
			}
			p.Interest = scaled
		default:
			return errs.MalformedConfig("pool %s: unknown rate_format %q", p.ID, p.RateFormat)
		}
	}
	return nil
}

// Validate 校验池子、市场和分档
func (c *Config) Validate() error {
	pools := make(map[string]struct{}, len(c.Pools))
	for _, p := range c.Pools {
		if p.ID == "" {
			return errs.MalformedConfig("pool id is required")
		}
		if _, dup := pools[p.ID]; dup {
			return errs.MalformedConfig("duplicate pool id %s", p.ID)
		}
		pools[p.ID] = struct{}{}
		if err := p.Interest.Validate(); err != nil {
			return fmt.Errorf("pool %s: %w", p.ID, err)
		}
		if err := p.Risk.Validate(); err != nil {
			return fmt.Errorf("pool %s: %w", p.ID, err)
		}
	}

	markets := make(map[string]struct{}, len(c.Markets))
	for _, m := range c.Markets {
		if m.ID == "" {
			return errs.MalformedConfig("market id is required")
		}
		if _, dup := markets[m.ID]; dup {
			return errs.MalformedConfig("duplicate market id %s", m.ID)
		}
		markets[m.ID] = struct{}{}
		if m.BaseSymbol == "" || m.QuoteSymbol == "" {
			return errs.MalformedConfig("market %s: base_symbol and quote_symbol are required", m.ID)
		}
		for _, ref := range []string{m.BasePool, m.QuotePool} {
			if ref == "" {
				continue
			}
			if _, ok := pools[ref]; !ok {
				return errs.MalformedConfig("market %s: unknown pool %s", m.ID, ref)
			}
		}
		if err := m.Risk.Validate(); err != nil {
			return fmt.Errorf("market %s: %w", m.ID, err)
		}
	}

	if c.Bands != nil {
		if err := c.Bands.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RiskBands 配置的分档，没配置时用默认值
func (c *Config) RiskBands() risk.Bands {
	if c.Bands == nil {
		return risk.DefaultBands()
	}
	return *c.Bands
}

// Market 按 id 查找市场
func (c *Config) Market(id string) (MarketConfig, bool) {
	for _, m := range c.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return MarketConfig{}, false
}

// Pool 按 id 查找池子
func (c *Config) Pool(id string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return PoolConfig{}, false
}

// State 用静态参数加上实时数量拼出池子快照
func (p PoolConfig) State() pool.State {
	return pool.State{
		PoolID:   p.ID,
		Asset:    p.Asset,
		Decimals: p.Decimals,
		Interest: p.Interest,
		Config:   p.Risk,
	}
}
