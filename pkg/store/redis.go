// 文件: pkg/store/redis.go
// Redis 最新状态存储
//
// Key 设计:
//
//	{prefix}:pool:{pool_id}      最新池子指标 (JSON)
//	{prefix}:risk:{account_id}   最新风险结果 (JSON)
//	{prefix}:at_risk             ZSET，score = 风险率，越小越危险
//	{prefix}:alert:{id}          告警详情 (JSON)
//	{prefix}:alerts              ZSET，score = 告警时间 (毫秒)

package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"max.com/margin/pkg/config"
	"max.com/margin/pkg/monitor"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/risk"
)

var _ monitor.ReportStore = (*RedisStore)(nil)

// RedisStore 实现 monitor.ReportStore，并提供最新状态的查询
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient 按配置创建客户端
func NewRedisClient(c config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

// NewRedisStore ttl 为 0 表示不过期
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) poolKey(id string) string      { return s.prefix + ":pool:" + id }
func (s *RedisStore) riskKey(account string) string { return s.prefix + ":risk:" + account }
func (s *RedisStore) atRiskKey() string             { return s.prefix + ":at_risk" }
func (s *RedisStore) alertKey(id string) string     { return s.prefix + ":alert:" + id }
func (s *RedisStore) alertsKey() string             { return s.prefix + ":alerts" }

// SavePoolReport 覆盖池子的最新指标
func (s *RedisStore) SavePoolReport(ctx context.Context, m pool.Metrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.poolKey(m.PoolID), data, s.ttl).Err()
}

// SaveRiskResult 覆盖账户的最新结果，并维护 at_risk 排行
//
// Safe 账户从排行里移除。
func (s *RedisStore) SaveRiskResult(ctx context.Context, r risk.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.riskKey(r.AccountID), data, s.ttl)
		if r.Level == risk.LevelSafe {
			pipe.ZRem(ctx, s.atRiskKey(), r.AccountID)
		} else {
			pipe.ZAdd(ctx, s.atRiskKey(), redis.Z{Score: r.RiskRatio.InexactFloat64(), Member: r.AccountID})
		}
		return nil
	})
	return err
}

// saveAlertScript 告警详情和时间索引一起写入
// KEYS[1]: alertKey ({prefix}:alert:{id})
// KEYS[2]: alertsKey ({prefix}:alerts)
// ARGV[1]: alertID
// ARGV[2]: score (毫秒时间戳)
// ARGV[3]: alertJSON
// ARGV[4]: ttl 秒，0 表示不过期
var saveAlertScript = redis.NewScript(`
	if tonumber(ARGV[4]) > 0 then
		redis.call('SET', KEYS[1], ARGV[3], 'EX', ARGV[4])
	else
		redis.call('SET', KEYS[1], ARGV[3])
	end
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
	return 1
`)

// SaveAlert 写入告警
func (s *RedisStore) SaveAlert(ctx context.Context, a monitor.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	id := strconv.FormatInt(a.ID, 10)
	return saveAlertScript.Run(ctx, s.client,
		[]string{s.alertKey(id), s.alertsKey()},
		id, a.At.UnixMilli(), data, int64(s.ttl/time.Second)).Err()
}

// PoolReport 读取池子的最新指标
func (s *RedisStore) PoolReport(ctx context.Context, poolID string) (pool.Metrics, bool, error) {
	var m pool.Metrics
	ok, err := s.getJSON(ctx, s.poolKey(poolID), &m)
	return m, ok, err
}

// RiskResult 读取账户的最新结果
func (s *RedisStore) RiskResult(ctx context.Context, accountID string) (risk.Result, bool, error) {
	var r risk.Result
	ok, err := s.getJSON(ctx, s.riskKey(accountID), &r)
	return r, ok, err
}

// AtRisk 风险率最低的 limit 个账户
func (s *RedisStore) AtRisk(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.client.ZRange(ctx, s.atRiskKey(), 0, limit-1).Result()
}

// RecentAlerts 最近的 limit 条告警，新的在前；已过期的详情跳过
func (s *RedisStore) RecentAlerts(ctx context.Context, limit int64) ([]monitor.Alert, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, s.alertsKey(), 0, limit-1).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.alertKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]monitor.Alert, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a monitor.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}
