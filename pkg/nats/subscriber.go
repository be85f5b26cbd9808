// 文件: pkg/nats/subscriber.go
// NATS 订阅者，接收池子 / 价格 / 账户快照

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"max.com/margin/pkg/config"
	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/risk"
)

// MessageHandler 消息处理函数
type MessageHandler func(subject string, data []byte) error

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler MessageHandler
	log     *logrus.Entry
}

// NewSubscriber 创建订阅者
func NewSubscriber(nc *nats.Conn, handler MessageHandler) *Subscriber {
	return &Subscriber{
		conn:    nc,
		handler: handler,
		log:     logger.WithComponent("nats.subscriber"),
	}
}

func (s *Subscriber) onMsg(msg *nats.Msg) {
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		s.log.WithField("subject", msg.Subject).WithError(err).Warn("handle failed")
	}
}

// Subscribe 订阅主题
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.onMsg)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (多个监控实例分摊)
func (s *Subscriber) SubscribeQueue(queue string, subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.QueueSubscribe(subject, queue, s.onMsg)
		if err != nil {
			return fmt.Errorf("queue subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close 取消订阅并关闭连接
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}

// =============================================================================
// 快照路由
// =============================================================================

// FeedHandler 快照的消费方 (monitor.Service)
type FeedHandler interface {
	HandlePool(ctx context.Context, s pool.State) error
	HandlePrice(ctx context.Context, p risk.PriceSnapshot) error
	HandleAccount(ctx context.Context, a risk.Account) (risk.Result, error)
}

// Subjects 订阅的主题，支持通配后缀 (margin.price.>)
func Subjects(c config.NATSConfig) []string {
	return []string{c.PoolSubject + ".>", c.PriceSubject + ".>", c.AccountSubject + ".>"}
}

// FeedRouter 按主题前缀把消息解码并分发给 FeedHandler
func FeedRouter(ctx context.Context, c config.NATSConfig, h FeedHandler) MessageHandler {
	return func(subject string, data []byte) error {
		switch {
		case matches(subject, c.PoolSubject):
			st, err := UnmarshalJSON[pool.State](data)
			if err != nil {
				return err
			}
			return h.HandlePool(ctx, *st)
		case matches(subject, c.PriceSubject):
			p, err := UnmarshalJSON[risk.PriceSnapshot](data)
			if err != nil {
				return err
			}
			return h.HandlePrice(ctx, *p)
		case matches(subject, c.AccountSubject):
			a, err := UnmarshalJSON[risk.Account](data)
			if err != nil {
				return err
			}
			_, err = h.HandleAccount(ctx, *a)
			return err
		default:
			return errs.MalformedConfig("no route for subject %s", subject)
		}
	}
}

func matches(subject, prefix string) bool {
	return subject == prefix || strings.HasPrefix(subject, prefix+".")
}

// UnmarshalJSON 反序列化 JSON
func UnmarshalJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errs.MalformedConfig("decode %T: %v", v, err)
	}
	return &v, nil
}
