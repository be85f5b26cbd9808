// 文件: pkg/kafka/consumer.go
// Kafka 消费者，读取池子账本事件
//
// 特点:
// - 消费者组支持
// - 回放模式: 重启后从最早的 offset 重读
// - 处理失败只记日志，继续下一条
// - 优雅关闭

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"max.com/margin/pkg/concentration"
	"max.com/margin/pkg/config"
	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/logger"
)

// =============================================================================
// Consumer 配置
// =============================================================================

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string // Kafka broker 地址列表
	GroupID       string   // 消费者组 ID
	Topics        []string // 订阅的 topics
	OffsetInitial int64    // 初始 offset: -1=newest, -2=oldest
	AutoCommit    bool     // 是否自动提交 offset

	// Replay 每次进程启动都从 OffsetInitial 重读，忽略已提交的 offset。
	// 同一进程内的 rebalance 从内存里记录的位置继续，不会重复投递。
	Replay bool
}

// LedgerConsumerConfig 账本事件消费配置
//
// 集中度数据只在内存里，重启后要从头回放: 不提交 offset，
// 每个实例用自己的消费者组 (<group>.ledger.<instance>)，拿到全部分区。
func LedgerConsumerConfig(c config.KafkaConfig, instance string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       c.Brokers,
		GroupID:       c.GroupID + ".ledger." + instance,
		Topics:        []string{c.LedgerTopic},
		OffsetInitial: sarama.OffsetOldest,
		AutoCommit:    false,
		Replay:        true,
	}
}

// =============================================================================
// MessageHandler 消息处理器
// =============================================================================

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// LedgerSink 接收账本事件 (monitor.Service)
type LedgerSink interface {
	HandleLedgerEvent(ctx context.Context, e concentration.Event) error
}

// LedgerHandler 把 JSON 账本事件解码后交给 sink
func LedgerHandler(sink LedgerSink) MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var e concentration.Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return errs.MalformedConfig("ledger event at offset %d: %v", msg.Offset, err)
		}
		return sink.HandleLedgerEvent(ctx, e)
	}
}

// =============================================================================
// Consumer 消费者
// =============================================================================

// Consumer Kafka 消费者组
type Consumer struct {
	client    sarama.ConsumerGroup
	config    ConsumerConfig
	handler   MessageHandler
	positions *positions
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:    client,
		config:    cfg,
		handler:   handler,
		positions: newPositions(),
		log:       logger.WithComponent("kafka.consumer").WithField("group", cfg.GroupID),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start 启动消费，rebalance 后自动重新加入
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			h := newGroupHandler(c.config, c.handler, c.positions, c.log)
			if err := c.client.Consume(c.ctx, c.config.Topics, h); err != nil {
				c.log.WithError(err).Error("consume failed")
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// =============================================================================
// 消费位置 (进程内)
// =============================================================================

type partitionKey struct {
	topic     string
	partition int32
}

// positions 记录每个分区下一条要处理的 offset
type positions struct {
	mu   sync.Mutex
	next map[partitionKey]int64
}

func newPositions() *positions {
	return &positions{next: make(map[partitionKey]int64)}
}

func (p *positions) get(topic string, partition int32) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.next[partitionKey{topic, partition}]
	return off, ok
}

func (p *positions) advance(topic string, partition int32, offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := partitionKey{topic, partition}
	if cur, ok := p.next[k]; !ok || offset+1 > cur {
		p.next[k] = offset + 1
	}
}

// =============================================================================
// sarama.ConsumerGroupHandler 实现
// =============================================================================

type groupHandler struct {
	config    ConsumerConfig
	handler   MessageHandler
	positions *positions
	log       *logrus.Entry
}

func newGroupHandler(cfg ConsumerConfig, handler MessageHandler, pos *positions, log *logrus.Entry) *groupHandler {
	return &groupHandler{config: cfg, handler: handler, positions: pos, log: log}
}

// Setup 回放模式下把分到的分区重置到本进程的消费位置，没消费过的从 OffsetInitial 开始
func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	if !h.config.Replay {
		return nil
	}
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			off, ok := h.positions.get(topic, p)
			if !ok {
				off = h.config.OffsetInitial
			}
			session.ResetOffset(topic, p, off, "")
		}
	}
	return nil
}

func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if next, ok := h.positions.get(msg.Topic, msg.Partition); ok && msg.Offset < next {
			continue
		}
		if err := h.handler(session.Context(), msg); err != nil {
			h.log.WithFields(logger.Fields{
				"topic":  msg.Topic,
				"offset": msg.Offset,
			}).WithError(err).Warn("handle failed")
		}
		h.positions.advance(msg.Topic, msg.Partition, msg.Offset)
		if !h.config.Replay {
			session.MarkMessage(msg, "")
		}
	}
	return nil
}
