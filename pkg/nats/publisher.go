// 文件: pkg/nats/publisher.go
// NATS 发布者，把池子报告、风险结果和告警推给下游

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"max.com/margin/pkg/monitor"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/risk"
)

// conn *nats.Conn 里用到的部分
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher NATS 发布者
type Publisher struct {
	conn conn
}

// Connect 连接 NATS，断线后无限重连
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// NewPublisher 创建发布者
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{conn: nc}
}

// Publish 序列化为 JSON 后发布
func (p *Publisher) Publish(subject string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, b)
}

// Close 关闭连接
func (p *Publisher) Close() {
	p.conn.Close()
}

// =============================================================================
// ReportPublisher
// =============================================================================

// ReportPublisher 实现 monitor.ReportStore
//
// 主题: <prefix>.pool.<pool_id>, <prefix>.risk.<market>, <prefix>.alert
type ReportPublisher struct {
	pub    *Publisher
	prefix string
}

// NewReportPublisher 创建报告发布者
func NewReportPublisher(p *Publisher, prefix string) *ReportPublisher {
	return &ReportPublisher{pub: p, prefix: prefix}
}

func (r *ReportPublisher) SavePoolReport(_ context.Context, m pool.Metrics) error {
	return r.pub.Publish(r.prefix+".pool."+m.PoolID, m)
}

func (r *ReportPublisher) SaveRiskResult(_ context.Context, res risk.Result) error {
	market := res.Market
	if market == "" {
		market = "default"
	}
	return r.pub.Publish(r.prefix+".risk."+market, res)
}

func (r *ReportPublisher) SaveAlert(_ context.Context, a monitor.Alert) error {
	return r.pub.Publish(r.prefix+".alert", a)
}
