package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aquaponics/pondwatch/pkg/kafka/processor"
	"github.com/aquaponics/pondwatch/pkg/metrics"
)

// Headers attached to dead-lettered records.
const (
	HeaderDLQError             = "dlq_error"
	HeaderDLQOriginalTopic     = "dlq_original_topic"
	HeaderDLQOriginalPartition = "dlq_original_partition"
	HeaderDLQOriginalOffset    = "dlq_original_offset"
)

var ErrDLQNotConfigured = errors.New("DLQ topic not configured")

// Consumer reads pond readings, hands each message to a Processor with
// bounded concurrency, dead-letters failures and commits offsets once
// processed, giving at-least-once delivery.
type Consumer struct {
	processor         processor.Processor
	consumer          *cKafka.Consumer
	dlqProducer       *Producer
	dlq               MsgProducer
	log               *zap.SugaredLogger
	metrics           *metrics.Metrics
	rebalanceContexts map[int32]rebalanceCtx
	rebalanceMutex    sync.RWMutex
	sem               *semaphore.Weighted
	offsetManager     *OffsetManager
	inFlight          sync.WaitGroup
	logsDone          chan struct{}
	doneCh            chan struct{}
	errCh             chan error
	cfg               ConsumerConfig
}

type rebalanceCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConsumer creates a Consumer. m may be nil. ctx bounds the offset manager
// and the DLQ producer's background goroutines.
func NewConsumer(
	ctx context.Context,
	log *zap.SugaredLogger,
	cfg ConsumerConfig,
	proc processor.Processor,
	m *metrics.Metrics,
) (*Consumer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	consumer, err := cKafka.NewConsumer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := &Consumer{
		processor:         proc,
		consumer:          consumer,
		log:               log,
		metrics:           m,
		cfg:               cfg,
		sem:               semaphore.NewWeighted(cfg.Concurrency),
		rebalanceContexts: make(map[int32]rebalanceCtx),
		logsDone:          make(chan struct{}),
		doneCh:            make(chan struct{}),
		errCh:             make(chan error, 1),
	}

	if !cfg.IsDLQConsumer {
		producerCfg := ProducerConfig{
			BootstrapServers: cfg.BootstrapServers,
			Acks:             "all",
			LingerMs:         5,
			Compression:      "lz4",
			EnableLogs:       cfg.EnableLogs,
		}
		c.dlqProducer, err = NewProducer(ctx, producerCfg.ConfigMap(), log.Named("dlq"))
		if err != nil {
			consumer.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
		}
		c.dlq = c.dlqProducer
	}

	c.offsetManager = NewOffsetManager(ctx, consumer, cfg.CommitInterval, cfg.AutoOffsetReset, log, m)
	return c, nil
}

// Start subscribes to the topic and consumes until ctx is done or a fatal
// error occurs, then closes the consumer. In-flight messages are given
// GoroutineWaitTimeout to finish; anything not committed is redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.cfg.IsDLQConsumer {
		c.log.Warnw("consuming a DLQ topic, failed messages will NOT be re-sent to the DLQ",
			"topic", c.cfg.Topic,
		)
	}

	if c.cfg.EnableLogs {
		go c.printKafkaLogs(runCtx)
	} else {
		close(c.logsDone)
	}

	if err := c.consumer.SubscribeTopics([]string{c.cfg.Topic}, c.rebalanceCallback(runCtx)); err != nil {
		close(c.doneCh)
		<-c.logsDone
		return fmt.Errorf("failed to subscribe to topic %q: %w", c.cfg.Topic, err)
	}
	c.log.Infow("consumer started",
		"topic", c.cfg.Topic,
		"group", c.cfg.GroupID,
		"concurrency", c.cfg.Concurrency,
	)

	var dlqErrs <-chan error
	if c.dlqProducer != nil {
		dlqErrs = c.dlqProducer.Errors()
	}
	pollMs := int(c.cfg.PollInterval.Milliseconds())

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			c.log.Info("context done, shutting down consumer")
			break loop
		case err, ok := <-dlqErrs:
			if ok {
				runErr = fmt.Errorf("DLQ producer failed: %w", err)
				break loop
			}
			dlqErrs = nil
		case err := <-c.errCh:
			runErr = err
			break loop
		default:
		}

		switch ev := c.consumer.Poll(pollMs).(type) {
		case nil:
		case *cKafka.Message:
			c.metrics.RecordMessageReceived(ev.TopicPartition.Partition)
			c.rebalanceMutex.RLock()
			rCtx, ok := c.rebalanceContexts[ev.TopicPartition.Partition]
			c.rebalanceMutex.RUnlock()
			if !ok {
				c.log.Errorw("message from unassigned partition", "partition", ev.TopicPartition.Partition)
				continue
			}
			c.offsetManager.MarkDispatched(ev.TopicPartition)
			// a revoked partition cancels rCtx; the message is then redelivered
			// to the new owner since its offset is never committed
			c.dispatch(rCtx.ctx, ev)
		case cKafka.Error:
			c.metrics.RecordKafkaError(ev.IsFatal())
			if ev.IsFatal() {
				runErr = fmt.Errorf("fatal kafka error: %w", ev)
				break loop
			}
			c.log.Warnw("kafka error (non-fatal)", "code", ev.Code(), "error", ev)
		default:
			c.log.Debugw("ignoring kafka event", "event", ev)
		}
	}

	if runErr != nil {
		c.log.Errorw("shutting down consumer", "error", runErr)
	}
	if err := c.close(); err != nil {
		c.log.Errorw("failed to close consumer", "error", err)
		runErr = errors.Join(runErr, err)
	}
	c.log.Info("consumer shutdown complete")
	return runErr
}

// dispatch acquires a concurrency slot and handles msg in a goroutine.
func (c *Consumer) dispatch(ctx context.Context, msg *cKafka.Message) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		// partition revoked or shutting down
		c.log.Debugw("dropping message, context done",
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
		)
		return
	}

	c.inFlight.Add(1)
	c.metrics.IncMessagesInFlight()
	go func() {
		defer c.inFlight.Done()
		defer c.metrics.DecMessagesInFlight()
		defer c.sem.Release(1)
		c.handle(ctx, msg)
	}()
}

// handle processes msg, dead-letters it on failure and records its offset.
// Offsets are only recorded once the message is stored or dead-lettered.
func (c *Consumer) handle(ctx context.Context, msg *cKafka.Message) {
	start := time.Now()
	err := c.processor.Process(ctx, msg)
	c.metrics.RecordMessageProcessed(msg.TopicPartition.Partition, err, time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if c.cfg.IsDLQConsumer {
			c.fail(fmt.Errorf("failed to process DLQ message at offset %d: %w", msg.TopicPartition.Offset, err))
			return
		}
		c.log.Warnw("processing failed, sending to DLQ",
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
			"error", err,
		)
		dlqErr := c.publishToDLQ(ctx, msg, err)
		c.metrics.RecordDLQProduction(dlqErr)
		if dlqErr != nil {
			c.fail(dlqErr)
			return
		}
	}
	c.offsetManager.InsertOffsetWithRetry(ctx, msg)
}

// fail reports err to the poll loop; only the first error is kept.
func (c *Consumer) fail(err error) {
	select {
	case c.errCh <- err:
	default:
		c.log.Errorw("dropping consumer error, shutdown already pending", "error", err)
	}
}

// dlqMessage builds the dead-letter record for msg.
func dlqMessage(topic string, msg *cKafka.Message, cause error) Msg {
	headers := fromKafkaHeaders(msg.Headers)
	if headers == nil {
		headers = make(map[string]string, 4)
	}
	if msg.TopicPartition.Topic != nil {
		headers[HeaderDLQOriginalTopic] = *msg.TopicPartition.Topic
	}
	headers[HeaderDLQOriginalPartition] = strconv.Itoa(int(msg.TopicPartition.Partition))
	headers[HeaderDLQOriginalOffset] = strconv.FormatInt(int64(msg.TopicPartition.Offset), 10)
	if cause != nil {
		headers[HeaderDLQError] = cause.Error()
	}
	return Msg{Topic: topic, Key: msg.Key, Value: msg.Value, Headers: headers}
}

// publishToDLQ sends a failed message to the dead letter queue.
func (c *Consumer) publishToDLQ(ctx context.Context, msg *cKafka.Message, cause error) error {
	if c.cfg.DLQTopic == "" || c.dlq == nil {
		return ErrDLQNotConfigured
	}

	if err := c.dlq.Produce(ctx, dlqMessage(c.cfg.DLQTopic, msg, cause)); err != nil {
		return fmt.Errorf("failed to produce to DLQ: %w", err)
	}

	c.log.Infow("published message to DLQ",
		"partition", msg.TopicPartition.Partition,
		"offset", msg.TopicPartition.Offset,
		"dlqTopic", c.cfg.DLQTopic,
	)
	return nil
}

// close waits for in-flight messages, commits what is contiguous and shuts
// down the DLQ producer and the consumer.
func (c *Consumer) close() error {
	close(c.doneCh)
	<-c.logsDone

	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(*c.cfg.GoroutineWaitTimeout):
		c.log.Warnw("timed out waiting for in-flight messages, they will be redelivered",
			"timeout", *c.cfg.GoroutineWaitTimeout,
		)
	}

	c.offsetManager.commitLatestValidOffsets()
	if c.dlqProducer != nil {
		c.dlqProducer.Close(*c.cfg.FlushTimeout)
	}
	return c.consumer.Close()
}

// rebalanceCallback tracks a cancellable context per assigned partition and
// forwards the event to the offset manager.
func (c *Consumer) rebalanceCallback(ctx context.Context) cKafka.RebalanceCb {
	return func(kc *cKafka.Consumer, event cKafka.Event) error {
		c.rebalanceMutex.Lock()
		defer c.rebalanceMutex.Unlock()

		switch ev := event.(type) {
		case cKafka.AssignedPartitions:
			ids := make([]int32, 0, len(ev.Partitions))
			for _, p := range ev.Partitions {
				rCtx := rebalanceCtx{}
				rCtx.ctx, rCtx.cancel = context.WithCancel(ctx)
				c.rebalanceContexts[p.Partition] = rCtx
				ids = append(ids, p.Partition)
			}
			c.metrics.RecordPartitionAssignment(ids)
			c.log.Infow("partitions assigned",
				"protocol", kc.GetRebalanceProtocol(),
				"partitions", ids,
			)

		case cKafka.RevokedPartitions:
			if kc.AssignmentLost() {
				c.log.Warn("assignment lost involuntarily, commits may fail")
			}
			for _, p := range ev.Partitions {
				if rCtx, ok := c.rebalanceContexts[p.Partition]; ok {
					rCtx.cancel()
					delete(c.rebalanceContexts, p.Partition)
				}
			}
			c.metrics.RecordPartitionRevocation()
			c.log.Infow("partitions revoked",
				"protocol", kc.GetRebalanceProtocol(),
				"count", len(ev.Partitions),
			)

		default:
			c.log.Warnw("unexpected rebalance event", "event", event)
		}
		return c.offsetManager.RebalanceCb(kc, event)
	}
}

func (c *Consumer) printKafkaLogs(ctx context.Context) {
	defer close(c.logsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.doneCh:
			return
		case log, ok := <-c.consumer.Logs():
			if !ok {
				return
			}
			c.log.Debugw("librdkafka", "level", log.Level, "tag", log.Tag, "message", log.Message)
		}
	}
}
