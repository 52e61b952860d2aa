package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const testTarget = kafka.TopicOrderEvents

var testLogger = log.WithField("component", "dlq-replay-test")

func outboxDeadLetterValue(t *testing.T, eventType string) []byte {
	t.Helper()
	inner, err := json.Marshal(outboxDeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       json.RawMessage(`{"orderId":"order-1","from":"pending","to":"cancelled"}`),
		Error:         "timeout",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       inner,
	}, time.Now()))
	require.NoError(t, err)
	return value
}

const consumerDeadLetterValue = `{"topic":"storefront.order.events","partition":0,"offset":7,"key":"order-2","value":"{\"id\":\"evt-2\",\"eventType\":\"order.status_changed\"}","error":"handler failed"}`

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	assert.Empty(t, parseBrokers(" , "))
}

func TestDecodeDeadLetter_ConsumerRecord(t *testing.T) {
	got, err := decodeDeadLetter([]byte(consumerDeadLetterValue), "fallback", time.Now())
	require.NoError(t, err)

	assert.Equal(t, "storefront.order.events", got.topic)
	assert.Equal(t, "order-2", got.key)
	assert.Equal(t, domain.OutboxEventOrderStatusChange, got.eventType)
	assert.JSONEq(t, `{"id":"evt-2","eventType":"order.status_changed"}`, string(got.value))
}

func TestDecodeDeadLetter_OutboxEnvelope(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := decodeDeadLetter(outboxDeadLetterValue(t, domain.OutboxEventOrderStatusChange), testTarget, now)
	require.NoError(t, err)

	assert.Equal(t, testTarget, got.topic)
	assert.Equal(t, "order-1", got.key)

	msg, err := kafka.ParseEnvelope(&sarama.ConsumerMessage{Value: got.value})
	require.NoError(t, err)
	assert.Equal(t, "outbox-1", msg.ID)
	assert.Equal(t, domain.OutboxEventOrderStatusChange, msg.EventType)
	assert.JSONEq(t, `{"orderId":"order-1","from":"pending","to":"cancelled"}`, string(msg.Payload))
}

func TestDecodeDeadLetter_Rejects(t *testing.T) {
	_, err := decodeDeadLetter([]byte(`{"foo":"bar"}`), testTarget, time.Now())
	assert.ErrorIs(t, err, errSkip)

	_, err = decodeDeadLetter([]byte(`not json`), testTarget, time.Now())
	assert.ErrorIs(t, err, errSkip)

	noPayload := `{"id":"outbox-1","eventType":"order.created","payload":{"outboxId":"outbox-1"}}`
	_, err = decodeDeadLetter([]byte(noPayload), testTarget, time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errSkip)
}

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-event-type=order.status_changed",
		"-limit=10",
		"-execute",
		"-from-newest",
		"-idle-timeout=3s",
	}, func(string) string { return "" })
	require.NoError(t, err)

	assert.Len(t, cfg.brokers, 2)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	assert.Equal(t, domain.OutboxEventOrderStatusChange, cfg.eventType)
	assert.Equal(t, 10, cfg.limit)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.fromNewest)
	assert.Equal(t, 3*time.Second, cfg.idleTimeout)

	cfg, err = readConfig(nil, func(key string) string {
		if key == envKafkaBrokers {
			return "env-broker:9092"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) string { return "" }
	tests := []struct {
		args []string
		want string
	}{
		{args: nil, want: "kafka brokers are required"},
		{args: []string{"-brokers=b:9092", "-source-topic="}, want: "source-topic is required"},
		{args: []string{"-brokers=b:9092", "-target-topic= "}, want: "target-topic is required"},
		{args: []string{"-brokers=b:9092", "-limit=0"}, want: "limit must be > 0"},
		{args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
	}
	for _, tc := range tests {
		_, err := readConfig(tc.args, noEnv)
		require.Error(t, err, tc.args)
		assert.Contains(t, err.Error(), tc.want)
	}
}

func newTestReplayer(cfg config, client offsetClient, source partitionSource, producer publisher) replayer {
	if cfg.targetTopic == "" {
		cfg.targetTopic = testTarget
	}
	if cfg.sourceTopic == "" {
		cfg.sourceTopic = kafka.TopicDeadLetterQueue
	}
	if cfg.idleTimeout == 0 {
		cfg.idleTimeout = 20 * time.Millisecond
	}
	if cfg.limit == 0 {
		cfg.limit = 10
	}
	deps := dependencies{client: client, source: source}
	if producer != nil {
		deps.producer = producer
	}
	return replayer{cfg: cfg, deps: deps, logger: testLogger}
}

func TestReplayer_DryRun(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Partition: 0, Offset: 0, Value: []byte(consumerDeadLetterValue)},
			{Partition: 0, Offset: 1, Value: []byte(`{"foo":"bar"}`)},
		}),
	}}

	stats, err := newTestReplayer(config{}, client, source, nil).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	require.Len(t, source.calls, 1)
	assert.Zero(t, source.calls[0].offset)
}

func TestReplayer_ExecuteWithEventFilter(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Partition: 0, Offset: 0, Value: outboxDeadLetterValue(t, domain.OutboxEventOrderCreated)},
			{Partition: 0, Offset: 1, Value: outboxDeadLetterValue(t, domain.OutboxEventOrderStatusChange)},
		}),
	}}
	producer := &stubPublisher{}

	cfg := config{execute: true, eventType: domain.OutboxEventOrderStatusChange}
	stats, err := newTestReplayer(cfg, client, source, producer).run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	require.Len(t, producer.sent, 1)
	assert.Equal(t, testTarget, producer.sent[0].topic)
	assert.Equal(t, "order-1", producer.sent[0].key)
	assert.Equal(t, domain.OutboxEventOrderStatusChange, producer.sent[0].headers[kafka.HeaderEventType])
}

func TestReplayer_FromNewestRespectsLimit(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)}}

	_, err := newTestReplayer(config{fromNewest: true, limit: 4}, client, source, nil).run(context.Background())
	require.NoError(t, err)
	require.Len(t, source.calls, 1)
	assert.Equal(t, int64(6), source.calls[0].offset)
}

func TestReplayer_LimitStopsAcrossPartitions(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}, 2: {oldest: 0, newest: 2}},
	}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDeadLetterValue)}}),
		2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: []byte(consumerDeadLetterValue)}}),
	}}

	stats, err := newTestReplayer(config{limit: 1}, client, source, nil).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
	require.Len(t, source.calls, 1)
	assert.Equal(t, int32(0), source.calls[0].partition, "partitions are scanned in order")
}

func TestReplayer_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newTestReplayer(config{}, nil, nil, nil).run(ctx)
	require.Error(t, err)

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	_, err = newTestReplayer(config{execute: true}, client, &stubPartitionSource{}, nil).run(ctx)
	require.ErrorContains(t, err, "producer is required")

	_, err = newTestReplayer(config{}, &stubOffsetClient{partitionsErr: errors.New("metadata")}, &stubPartitionSource{}, nil).run(ctx)
	require.ErrorContains(t, err, "get partitions")

	offsetErr := &stubOffsetClient{partitions: []int32{0}, offsetErr: map[int32]error{0: errors.New("offset")}}
	_, err = newTestReplayer(config{}, offsetErr, &stubPartitionSource{}, nil).run(ctx)
	require.ErrorContains(t, err, "oldest offset")

	_, err = newTestReplayer(config{}, client, &stubPartitionSource{consumeErr: errors.New("consume")}, nil).run(ctx)
	require.ErrorContains(t, err, "consume partition")

	broken := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError, 1)}
	broken.errors <- &sarama.ConsumerError{Err: errors.New("boom")}
	_, err = newTestReplayer(config{}, client, &stubPartitionSource{consumers: map[int32]partitionConsumer{0: broken}}, nil).run(ctx)
	require.ErrorContains(t, err, "consumer error")

	failing := &stubPublisher{err: errors.New("send failed")}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(consumerDeadLetterValue)}}),
	}}
	_, err = newTestReplayer(config{execute: true}, client, source, failing).run(ctx)
	require.ErrorContains(t, err, "publish replay message")
}

func TestReplayer_StopsOnCancelAndIdle(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{0: idle}}

	stats, err := newTestReplayer(config{}, client, source, nil).run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestReplayer(config{idleTimeout: time.Minute}, client, source, nil).run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newDependencies
	defer func() { newDependencies = oldDeps }()

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: testTarget, limit: 1, idleTimeout: 20 * time.Millisecond}

	newDependencies = func(config, *log.Entry) (dependencies, error) {
		return dependencies{}, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), cfg, testLogger), "deps failed")

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(consumerDeadLetterValue)}}),
	}}
	producer := &stubPublisher{}
	newDependencies = func(config, *log.Entry) (dependencies, error) {
		return dependencies{client: client, source: source, producer: producer}, nil
	}

	require.NoError(t, run(context.Background(), cfg, testLogger))
	assert.True(t, client.closed)
	assert.True(t, source.closed)
	assert.True(t, producer.closed)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type sentMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type stubPublisher struct {
	err    error
	sent   []sentMessage
	closed bool
}

func (s *stubPublisher) Send(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}
