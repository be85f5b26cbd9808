package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/margin/pkg/concentration"
	"max.com/margin/pkg/config"
	"max.com/margin/pkg/errs"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/monitor"
)

func TestAlertProducer_SendAlert(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, nil)
	mock.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "margin.liquidation.alerts" {
			return errors.New("wrong topic " + m.Topic)
		}
		key, _ := m.Key.Encode()
		if string(key) != "alice" {
			return errors.New("wrong key " + string(key))
		}
		raw, _ := m.Value.Encode()
		var a monitor.Alert
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.ID != 42 || !a.RepayUSD.Equal(decimal.RequireFromString("119.56")) {
			return errors.New("unexpected payload " + string(raw))
		}
		return nil
	})

	p := newProducer(mock)
	ap := NewAlertProducer(p, "margin.liquidation.alerts")
	err := ap.SendAlert(context.Background(), monitor.Alert{
		ID:        42,
		AccountID: "alice",
		RepayUSD:  decimal.RequireFromString("119.56"),
		At:        time.Unix(0, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), p.Stats().SentCount)

	assert.ErrorIs(t, ap.SendAlert(context.Background(), monitor.Alert{}), ErrProducerClosed)
}

func TestProducer_ErrorsCounted(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, nil)
	mock.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := newProducer(mock)
	require.NoError(t, p.Send(context.Background(), AlertMessage{TopicName: "t", Alert: monitor.Alert{AccountID: "a"}}))
	_ = p.Close()
	assert.Equal(t, int64(1), p.Stats().ErrorCount)
}

func TestProducerConfigFrom(t *testing.T) {
	cfg := ProducerConfigFrom(config.KafkaConfig{Brokers: []string{"k:9092"}})
	assert.Equal(t, "snappy", cfg.Compression)
	sc := cfg.sarama()
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.True(t, sc.Producer.Return.Errors)

	cfg = ProducerConfigFrom(config.KafkaConfig{Compression: "zstd"})
	assert.Equal(t, sarama.CompressionZSTD, cfg.sarama().Producer.Compression)

	cc := LedgerConsumerConfig(config.KafkaConfig{GroupID: "g", LedgerTopic: "ledger"}, "2")
	assert.Equal(t, []string{"ledger"}, cc.Topics)
	assert.Equal(t, "g.ledger.2", cc.GroupID)
	assert.Equal(t, sarama.OffsetOldest, cc.OffsetInitial)
	assert.False(t, cc.AutoCommit)
	assert.True(t, cc.Replay)
}

// fakeSession 记录 ResetOffset / MarkMessage 调用
type fakeSession struct {
	claims map[string][]int32
	resets map[int32]int64
	marked int
}

func newFakeSession(topic string, partitions ...int32) *fakeSession {
	return &fakeSession{claims: map[string][]int32{topic: partitions}, resets: map[int32]int64{}}
}

func (f *fakeSession) Claims() map[string][]int32 { return f.claims }
func (f *fakeSession) MemberID() string { return "member" }
func (f *fakeSession) GenerationID() int32 { return 1 }
func (f *fakeSession) MarkOffset(string, int32, int64, string) {}
func (f *fakeSession) Commit() {}
func (f *fakeSession) ResetOffset(_ string, partition int32, offset int64, _ string) {
	f.resets[partition] = offset
}
func (f *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) { f.marked++ }
func (f *fakeSession) Context() context.Context { return context.Background() }

type fakeClaim struct {
	topic     string
	partition int32
	msgs      chan *sarama.ConsumerMessage
}

func newFakeClaim(topic string, partition int32, offsets ...int64) *fakeClaim {
	c := &fakeClaim{topic: topic, partition: partition, msgs: make(chan *sarama.ConsumerMessage, len(offsets))}
	for _, off := range offsets {
		c.msgs <- &sarama.ConsumerMessage{
			Topic:     topic,
			Partition: partition,
			Offset:    off,
			Value:     []byte(`{"pool_id":"usdc","kind":"supply","address":"0xa","amount":"1","timestamp":1}`),
		}
	}
	close(c.msgs)
	return c
}

func (c *fakeClaim) Topic() string { return c.topic }
func (c *fakeClaim) Partition() int32 { return c.partition }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestGroupHandler_ReplayFromOldest(t *testing.T) {
	cfg := LedgerConsumerConfig(config.KafkaConfig{GroupID: "g", LedgerTopic: "ledger"}, "1")
	sink := &fakeLedger{}
	pos := newPositions()
	log := logger.WithComponent("test")

	// 第一次启动: 所有分区从最早的 offset 开始，不提交 offset
	s1 := newFakeSession("ledger", 0, 1)
	h := newGroupHandler(cfg, LedgerHandler(sink), pos, log)
	require.NoError(t, h.Setup(s1))
	assert.Equal(t, map[int32]int64{0: sarama.OffsetOldest, 1: sarama.OffsetOldest}, s1.resets)
	require.NoError(t, h.ConsumeClaim(s1, newFakeClaim("ledger", 0, 0, 1, 2)))
	assert.Len(t, sink.events, 3)
	assert.Zero(t, s1.marked)

	// 同一进程内 rebalance: 从内存位置继续，重复投递的消息被跳过
	s2 := newFakeSession("ledger", 0)
	h = newGroupHandler(cfg, LedgerHandler(sink), pos, log)
	require.NoError(t, h.Setup(s2))
	assert.Equal(t, int64(3), s2.resets[0])
	require.NoError(t, h.ConsumeClaim(s2, newFakeClaim("ledger", 0, 2, 3)))
	assert.Len(t, sink.events, 4)

	// 进程重启: 内存位置丢失，重新从 offset 0 回放
	restarted := &fakeLedger{}
	s3 := newFakeSession("ledger", 0)
	h = newGroupHandler(cfg, LedgerHandler(restarted), newPositions(), log)
	require.NoError(t, h.Setup(s3))
	assert.Equal(t, sarama.OffsetOldest, s3.resets[0])
	require.NoError(t, h.ConsumeClaim(s3, newFakeClaim("ledger", 0, 0, 1, 2, 3)))
	assert.Len(t, restarted.events, 4)
}

func TestGroupHandler_CommitsWithoutReplay(t *testing.T) {
	cfg := ConsumerConfig{Topics: []string{"t"}, OffsetInitial: sarama.OffsetNewest, AutoCommit: true}
	sink := &fakeLedger{}
	s := newFakeSession("t", 0)
	h := newGroupHandler(cfg, LedgerHandler(sink), newPositions(), logger.WithComponent("test"))

	require.NoError(t, h.Setup(s))
	assert.Empty(t, s.resets)
	require.NoError(t, h.ConsumeClaim(s, newFakeClaim("t", 0, 5, 6)))
	assert.Len(t, sink.events, 2)
	assert.Equal(t, 2, s.marked)
}

type fakeLedger struct {
	events []concentration.Event
}

func (f *fakeLedger) HandleLedgerEvent(_ context.Context, e concentration.Event) error {
	f.events = append(f.events, e)
	return nil
}

func TestLedgerHandler(t *testing.T) {
	sink := &fakeLedger{}
	h := LedgerHandler(sink)

	msg := &sarama.ConsumerMessage{
		Topic: "margin.ledger.events",
		Value: []byte(`{"pool_id":"usdc","kind":"supply","address":"0xa","amount":"1500","timestamp":1700000000000}`),
	}
	require.NoError(t, h(context.Background(), msg))
	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, concentration.EventSupply, e.Kind)
	assert.True(t, e.Amount.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, int64(1700000000000), e.Timestamp)

	err := h(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
	assert.True(t, errors.Is(err, errs.ErrMalformedConfig))
}
