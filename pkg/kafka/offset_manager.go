package kafka

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const (
	OffsetManagerCommitInterval  = 5 * time.Second
	OffsetManagerAutoOffsetReset = "latest"

	WindowLengthWarningThreshold = 10000

	brokerQueryTimeoutMs = 5000
)

// OffsetCommitter is the part of *kafka.Consumer the OffsetManager talks to.
type OffsetCommitter interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Committed(partitions []kafka.TopicPartition, timeoutMs int) ([]kafka.TopicPartition, error)
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (low, high int64, err error)
}

// OffsetRecorder observes commit progress. *metrics.Metrics implements it.
type OffsetRecorder interface {
	UpdateOffsetMetrics(partition int32, lastCommitted, latestProcessed int64, windowSize int)
	RecordOffsetCommit(partition int32, err error, durationSeconds float64)
}

type noopOffsetRecorder struct{}

func (noopOffsetRecorder) UpdateOffsetMetrics(int32, int64, int64, int) {}
func (noopOffsetRecorder) RecordOffsetCommit(int32, error, float64)     {}

type offsetState struct {
	window        []kafka.TopicPartition
	lastCommitted kafka.Offset
}

/*
OffsetManager is a thread-safe, in-memory sliding window of processed offsets
per assigned partition. Readings are processed concurrently, so a message may
finish before an older one on the same partition; only the contiguous prefix
of processed offsets is committed, which keeps delivery at least once.

Workers call InsertOffset (or InsertOffsetWithRetry) once a message is stored
or dead-lettered. Every commit interval the manager commits, per partition, the
highest offset reachable from lastCommitted without a gap and truncates the
window.

A partition without a usable stored offset commits nothing until the poll
loop anchors it with MarkDispatched at the first message it hands out.

The window is unbounded. When a partition's window grows past
WindowLengthWarningThreshold a warning is logged, which usually means one
message is stuck in processing.
*/
type OffsetManager struct {
	committer       OffsetCommitter
	autoOffsetReset string
	partitionStates map[int32]*offsetState
	mutex           sync.Mutex
	log             *zap.SugaredLogger
	rec             OffsetRecorder
}

// NewOffsetManager starts the commit loop, which runs until ctx is done. rec
// may be nil.
func NewOffsetManager(
	ctx context.Context,
	committer OffsetCommitter,
	interval time.Duration,
	autoOffsetReset string,
	log *zap.SugaredLogger,
	rec OffsetRecorder,
) *OffsetManager {
	if rec == nil {
		rec = noopOffsetRecorder{}
	}
	om := &OffsetManager{
		committer:       committer,
		autoOffsetReset: autoOffsetReset,
		partitionStates: make(map[int32]*offsetState),
		log:             log,
		rec:             rec,
	}
	go om.managerLoop(ctx, interval)
	return om
}

func (om *OffsetManager) managerLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			om.commitLatestValidOffsets()
		case <-ctx.Done():
			return
		}
	}
}

// contiguousEnd returns the index of the last window entry reachable from
// lastCommitted without a gap, or -1 when the window starts past a gap.
// Entries at or below lastCommitted are duplicates and are passed over.
func contiguousEnd(window []kafka.TopicPartition, lastCommitted kafka.Offset) int {
	end := -1
	next := lastCommitted + 1
	for i, tp := range window {
		if tp.Offset <= lastCommitted {
			end = i
			continue
		}
		if tp.Offset != next {
			break
		}
		end = i
		next++
	}
	return end
}

func (om *OffsetManager) commitLatestValidOffsets() {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	for partition, state := range om.partitionStates {
		end := contiguousEnd(state.window, state.lastCommitted)
		switch {
		case end < 0:
		case state.window[end].Offset <= state.lastCommitted:
			state.window = slices.Clone(state.window[end+1:])
		default:
			next := state.window[end]
			start := time.Now()
			_, err := om.committer.CommitOffsets([]kafka.TopicPartition{next})
			om.rec.RecordOffsetCommit(partition, err, time.Since(start).Seconds())
			if err != nil {
				om.log.Errorw("failed to commit offset",
					"partition", partition,
					"offset", next.Offset,
					"error", err,
				)
				return
			}

			om.log.Debugw("committed offset", "partition", partition, "offset", next.Offset)
			state.lastCommitted = next.Offset
			state.window = slices.Clone(state.window[end+1:])
		}

		latest := int64(state.lastCommitted)
		if n := len(state.window); n > 0 {
			latest = int64(state.window[n-1].Offset)
		}
		om.rec.UpdateOffsetMetrics(partition, int64(state.lastCommitted), latest, len(state.window))

		if len(state.window) > WindowLengthWarningThreshold {
			om.log.Warnw("partition offset window is large",
				"partition", partition,
				"length", len(state.window),
				"lastCommitted", state.lastCommitted,
			)
		}
	}
}

// InsertOffset records a processed offset for offset.Partition. offset.Offset
// is the next offset to consume, that is the processed message's offset + 1,
// following Kafka's commit semantics.
func (om *OffsetManager) InsertOffset(ctx context.Context, offset kafka.TopicPartition) error {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	state := om.partitionStates[offset.Partition]
	if state == nil {
		om.log.Warnw("partition is not assigned, ignoring offset",
			"partition", offset.Partition,
			"offset", offset.Offset,
		)
		return nil
	}

	i := sort.Search(len(state.window), func(j int) bool {
		return state.window[j].Offset >= offset.Offset
	})
	if i < len(state.window) && state.window[i].Offset == offset.Offset {
		return nil
	}
	state.window = slices.Insert(state.window, i, offset)
	return nil
}

// MarkDispatched anchors a partition without a stored offset at the first
// message handed out for processing. It must be called from the poll loop,
// in partition order, before the message is processed. Offsets inserted into
// a partition that is not anchored yet wait in the window uncommitted.
func (om *OffsetManager) MarkDispatched(tp kafka.TopicPartition) {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	state := om.partitionStates[tp.Partition]
	if state == nil || state.lastCommitted >= 0 {
		return
	}
	state.lastCommitted = tp.Offset
	om.log.Infow("initialised partition offset", "partition", tp.Partition, "lastCommitted", state.lastCommitted)
}

// InsertOffsetWithRetry inserts msg's next offset until it succeeds or ctx is done.
func (om *OffsetManager) InsertOffsetWithRetry(ctx context.Context, msg *kafka.Message) {
	for {
		err := om.InsertOffset(ctx, kafka.TopicPartition{
			Topic:     msg.TopicPartition.Topic,
			Partition: msg.TopicPartition.Partition,
			Offset:    msg.TopicPartition.Offset + 1,
		})
		if err == nil || ctx.Err() != nil {
			return
		}

		om.log.Errorw("retrying offset insert", "partition", msg.TopicPartition.Partition, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// RebalanceCb resets partition state on assignment and drops it on
// revocation. The consumer wraps it in its own rebalance callback.
func (om *OffsetManager) RebalanceCb(_ *kafka.Consumer, event kafka.Event) error {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	switch ev := event.(type) {
	case kafka.AssignedPartitions:
		// Assignment offsets are often kafka.OffsetInvalid for an idle group,
		// so the committed offsets are read from the broker.
		committed, err := om.committer.Committed(ev.Partitions, brokerQueryTimeoutMs)
		if err != nil {
			return fmt.Errorf("failed to get committed offsets: %w", err)
		}

		logStr := make([]string, len(committed))
		for i, co := range committed {
			state := &offsetState{lastCommitted: co.Offset}
			om.partitionStates[co.Partition] = state

			topic := ""
			if co.Topic != nil {
				topic = *co.Topic
			}
			low, high, err := om.committer.QueryWatermarkOffsets(topic, co.Partition, brokerQueryTimeoutMs)
			if err != nil {
				return fmt.Errorf("failed to query watermark offsets of partition %d: %w", co.Partition, err)
			}
			om.log.Debugw("watermark offsets",
				"partition", co.Partition,
				"low", low,
				"high", high,
				"autoOffsetReset", om.autoOffsetReset,
			)

			// A stored offset below the retention low mark is out of range and
			// librdkafka falls back to auto.offset.reset; the first
			// dispatched message anchors the window instead.
			if co.Offset < 0 || co.Offset < kafka.Offset(low) {
				state.lastCommitted = kafka.OffsetInvalid
			}
			logStr[i] = fmt.Sprintf("(partition: %d, lastCommitted: %d)", co.Partition, state.lastCommitted)
		}
		om.log.Infow("rebalance, adding partition states", "partitions", strings.Join(logStr, ","))

	case kafka.RevokedPartitions:
		logStr := make([]string, len(ev.Partitions))
		for i, p := range ev.Partitions {
			logStr[i] = strconv.Itoa(int(p.Partition))
			delete(om.partitionStates, p.Partition)
		}
		om.log.Infow("rebalance, removing partition states", "partitions", strings.Join(logStr, ","))

	default:
		om.log.Warnw("unknown rebalance event", "event", event)
	}
	return nil
}
