package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/margin/pkg/errs"
)

const sample = `
service:
  name: margin-monitor
log:
  level: debug
  format: text
pools:
  - id: usdc
    asset: USDC
    decimals: 6
    rate_format: percent
    interest:
      base_rate: 2
      base_slope: 5
      optimal_utilization: 70
      excess_slope: 60
    risk:
      supply_cap: "1000000000000"
      max_utilization_rate: 0.9
      protocol_spread: 0.1
      min_borrow: 1000000
  - id: sui
    asset: SUI
    decimals: 9
    rate_format: scaled
    interest:
      base_rate: 20000000
      base_slope: 50000000
      optimal_utilization: 800000000
      excess_slope: 1000000000
    risk:
      protocol_spread: 0.2
      rate_limiter:
        enabled: true
        capacity: 1000000
        refill_rate_per_ms: 0.5
        available: 1000000
markets:
  - id: SUI_USDC
    base_symbol: SUI
    quote_symbol: USDC
    base_pool: sui
    quote_pool: usdc
    risk:
      liquidation_threshold: 1.1
      min_borrow_risk_ratio: 1.25
      min_withdraw_risk_ratio: 2
      target_liquidation_risk_ratio: 1.25
      liquidation_reward: 0.02
monitor:
  rescan_interval: 2s
  max_price_age: 30s
kafka:
  brokers: ["${KAFKA_BROKER}"]
redis:
  addr: localhost:6379
`

func TestParse(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "kafka-1:9092")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, cfg.Pools, 2)
	usdc, ok := cfg.Pool("usdc")
	require.True(t, ok)
	assert.True(t, usdc.Interest.BaseRate.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, usdc.Interest.OptimalUtilization.Equal(decimal.RequireFromString("0.7")))
	assert.True(t, usdc.Risk.MinBorrow.Equal(decimal.NewFromInt(1_000_000)))

	sui, _ := cfg.Pool("sui")
	assert.True(t, sui.Interest.ExcessSlope.Equal(decimal.NewFromInt(1)))
	require.NotNil(t, sui.Risk.RateLimiter)
	assert.True(t, sui.Risk.RateLimiter.Enabled)

	m, ok := cfg.Market("SUI_USDC")
	require.True(t, ok)
	assert.True(t, m.Risk.LiquidationThreshold.Equal(decimal.RequireFromString("1.1")))

	assert.Equal(t, 2*time.Second, cfg.Monitor.RescanInterval)
	assert.Equal(t, 30*time.Second, cfg.Monitor.MaxPriceAge)
	assert.Equal(t, 8, cfg.Monitor.Workers)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "margin.liquidation.alerts", cfg.Kafka.AlertTopic)
	assert.Equal(t, "margin-monitor", cfg.Kafka.GroupID)
	assert.Equal(t, "debug", cfg.Log.Level)

	bands := cfg.RiskBands()
	assert.True(t, bands.WarningPct.Equal(decimal.NewFromInt(30)))

	state := usdc.State()
	assert.Equal(t, "USDC", state.Asset)
	require.NoError(t, state.Validate())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "pools: [\n"},
		{"missing pool id", "pools:\n  - asset: USDC\n"},
		{"duplicate pool", "pools:\n  - id: a\n  - id: a\n"},
		{"unknown rate format", "pools:\n  - id: a\n    rate_format: bps\n"},
		{"optimal out of range", "pools:\n  - id: a\n    interest:\n      optimal_utilization: 1.5\n"},
		{"unknown pool ref", `markets:
  - id: m
    base_symbol: A
    quote_symbol: B
    base_pool: nope
`},
		{"bad market risk", `markets:
  - id: m
    base_symbol: A
    quote_symbol: B
    risk:
      liquidation_threshold: 0
`},
		{"bad bands", "bands:\n  warning_pct: 1\n  danger_pct: 2\n  critical_pct: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrMalformedConfig), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "margin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Service.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MYSQL_DSN", "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "margin.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Pools, 2)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, ":9102", cfg.Monitor.MetricsAddr)

	sui, ok := cfg.Pool("sui")
	require.True(t, ok)
	assert.True(t, sui.Interest.OptimalUtilization.Equal(decimal.RequireFromString("0.8")))

	m, ok := cfg.Market("SUI_USDC")
	require.True(t, ok)
	assert.True(t, m.Risk.LiquidationThreshold.Equal(decimal.RequireFromString("1.1")))
}
