// 文件: pkg/kafka/producer.go
// Kafka 生产者，发送清算告警
//
// 特点:
// - 异步发送，高吞吐
// - 发送错误计数并记录日志
// - 优雅关闭
// - 按账户 id 分区，同一账户的告警保证顺序

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"max.com/margin/pkg/config"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/monitor"
)

var ErrProducerClosed = errors.New("producer is closed")

// =============================================================================
// Message 接口
// =============================================================================

// Message 发往 Kafka 的消息
type Message interface {
	Topic() string          // 目标 topic
	Key() string            // 分区 key (相同 key 保证顺序)
	Value() ([]byte, error) // 消息体
}

// AlertMessage 清算告警消息
type AlertMessage struct {
	TopicName string
	Alert     monitor.Alert
}

func (m AlertMessage) Topic() string          { return m.TopicName }
func (m AlertMessage) Key() string            { return m.Alert.AccountID }
func (m AlertMessage) Value() ([]byte, error) { return json.Marshal(m.Alert) }

// =============================================================================
// Producer 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string      // Kafka broker 地址列表
	RequiredAcks   int           // 确认模式: 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // 压缩方式: none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int           // 最大重试次数
}

// ProducerConfigFrom 由服务配置生成生产者配置
//
// 告警不能丢，默认等全部副本确认。
func ProducerConfigFrom(c config.KafkaConfig) ProducerConfig {
	compression := c.Compression
	if compression == "" {
		compression = "snappy"
	}
	return ProducerConfig{
		Brokers:        c.Brokers,
		RequiredAcks:   -1,
		Compression:    compression,
		FlushFrequency: 50 * time.Millisecond,
		FlushMessages:  50,
		MaxRetries:     5,
	}
}

func (cfg ProducerConfig) sarama() *sarama.Config {
	sc := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries

	// 异步模式只回传错误
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// =============================================================================
// Producer 生产者
// =============================================================================

// Producer 异步 Kafka 生产者
type Producer struct {
	producer sarama.AsyncProducer
	log      *logrus.Entry

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewProducer 连接 broker 并创建生产者
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	ap, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.sarama())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(ap), nil
}

func newProducer(ap sarama.AsyncProducer) *Producer {
	p := &Producer{
		producer: ap,
		log:      logger.WithComponent("kafka.producer"),
	}
	p.wg.Add(1)
	go p.handleErrors()
	return p
}

// Send 异步发送，broker 积压时阻塞直到 ctx 取消
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	data, err := msg.Value()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	m := &sarama.ProducerMessage{
		Topic: msg.Topic(),
		Key:   sarama.StringEncoder(msg.Key()),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case p.producer.Input() <- m:
		p.sentCount.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		p.log.WithField("topic", err.Msg.Topic).WithError(err.Err).Error("send failed")
	}
}

// ProducerStats 统计信息
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取统计信息
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 刷新缓冲并关闭
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.producer.Close()
	p.wg.Wait()
	return err
}

// =============================================================================
// AlertProducer
// =============================================================================

// AlertProducer 把清算告警写入 Kafka，实现 monitor.AlertSink
type AlertProducer struct {
	producer *Producer
	topic    string
}

// NewAlertProducer 创建告警生产者
func NewAlertProducer(p *Producer, topic string) *AlertProducer {
	return &AlertProducer{producer: p, topic: topic}
}

// SendAlert 发送一条告警
func (a *AlertProducer) SendAlert(ctx context.Context, alert monitor.Alert) error {
	return a.producer.Send(ctx, AlertMessage{TopicName: a.topic, Alert: alert})
}
