package kafka

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCommitter echoes assignments back as committed offsets and records commits.
type fakeCommitter struct {
	mu        sync.Mutex
	commits   []kafka.TopicPartition
	commitErr error
	low       int64
}

func (f *fakeCommitter) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.commits = append(f.commits, offsets...)
	return offsets, nil
}

func (f *fakeCommitter) Committed(partitions []kafka.TopicPartition, _ int) ([]kafka.TopicPartition, error) {
	return partitions, nil
}

func (f *fakeCommitter) QueryWatermarkOffsets(string, int32, int) (int64, int64, error) {
	return f.low, 1 << 20, nil
}

type recordedOffset struct {
	partition     int32
	lastCommitted int64
	latest        int64
	window        int
}

type fakeOffsetRecorder struct {
	mu      sync.Mutex
	updates []recordedOffset
	commits int
	failed  int
}

func (r *fakeOffsetRecorder) UpdateOffsetMetrics(p int32, lastCommitted, latest int64, window int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, recordedOffset{p, lastCommitted, latest, window})
}

func (r *fakeOffsetRecorder) RecordOffsetCommit(_ int32, err error, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	if err != nil {
		r.failed++
	}
}

func createLogger(t *testing.T) *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

// snapshot returns a copy of a partition's state, nil when unassigned.
func snapshot(om *OffsetManager, p int32) *offsetState {
	om.mutex.Lock()
	defer om.mutex.Unlock()
	s := om.partitionStates[p]
	if s == nil {
		return nil
	}
	return &offsetState{window: append([]kafka.TopicPartition(nil), s.window...), lastCommitted: s.lastCommitted}
}

func waitCommitted(t *testing.T, om *OffsetManager, p int32, want kafka.Offset) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := snapshot(om, p)
		return s != nil && s.lastCommitted == want
	}, time.Second, 5*time.Millisecond)
}

func insert(t *testing.T, om *OffsetManager, p int32, offsets ...kafka.Offset) {
	t.Helper()
	for _, o := range offsets {
		require.NoError(t, om.InsertOffset(t.Context(), kafka.TopicPartition{Partition: p, Offset: o}))
	}
}

func newTestOffsetManager(t *testing.T, c OffsetCommitter, rec OffsetRecorder, assignment ...kafka.TopicPartition) *OffsetManager {
	t.Helper()
	om := NewOffsetManager(t.Context(), c, 10*time.Millisecond, "latest", createLogger(t), rec)
	require.NoError(t, om.RebalanceCb(nil, kafka.AssignedPartitions{Partitions: assignment}))
	return om
}

func TestContiguousEnd(t *testing.T) {
	t.Parallel()

	window := func(offsets ...kafka.Offset) []kafka.TopicPartition {
		out := make([]kafka.TopicPartition, len(offsets))
		for i, o := range offsets {
			out[i].Offset = o
		}
		return out
	}

	tests := []struct {
		name          string
		window        []kafka.TopicPartition
		lastCommitted kafka.Offset
		want          int
	}{
		{name: "empty", window: nil, lastCommitted: 0, want: -1},
		{name: "gap before window", window: window(3, 4), lastCommitted: 0, want: -1},
		{name: "fully contiguous", window: window(1, 2, 3), lastCommitted: 0, want: 2},
		{name: "stops at gap", window: window(1, 2, 5, 6), lastCommitted: 0, want: 1},
		{name: "duplicates passed over", window: window(2, 3, 4, 6), lastCommitted: 4, want: 2},
		{name: "duplicates then contiguous", window: window(0, 2, 3, 4), lastCommitted: 3, want: 3},
		{name: "single next offset", window: window(8), lastCommitted: 7, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, contiguousEnd(tt.window, tt.lastCommitted))
		})
	}
}

// Out of order inserts commit the contiguous prefix and keep the rest.
func TestUnorderedOffsetsWithZeroInit(t *testing.T) {
	t.Parallel()
	c := &fakeCommitter{}
	om := newTestOffsetManager(t, c, nil, kafka.TopicPartition{Partition: 0, Offset: 0})

	insert(t, om, 0, 20, 3, 1, 0, 2)
	waitCommitted(t, om, 0, 3)

	s := snapshot(om, 0)
	require.Len(t, s.window, 1)
	require.Equal(t, kafka.Offset(20), s.window[0].Offset)
}

func TestOrderedOffsets(t *testing.T) {
	t.Parallel()
	om := newTestOffsetManager(t, &fakeCommitter{}, nil, kafka.TopicPartition{Partition: 1, Offset: 3})

	// 0 and 2 are below the stored offset and passed over
	insert(t, om, 1, 0, 2, 3, 4)
	waitCommitted(t, om, 1, 4)
	require.Empty(t, snapshot(om, 1).window)

	insert(t, om, 1, 5, 6)
	waitCommitted(t, om, 1, 6)
	require.Empty(t, snapshot(om, 1).window)
}

func TestGapBetweenLastCommittedAndWindow(t *testing.T) {
	t.Parallel()
	om := newTestOffsetManager(t, &fakeCommitter{}, nil, kafka.TopicPartition{Partition: 2, Offset: 0})

	insert(t, om, 2, 3, 4, 5)
	time.Sleep(30 * time.Millisecond)
	s := snapshot(om, 2)
	require.Equal(t, kafka.Offset(0), s.lastCommitted)
	require.Len(t, s.window, 3)

	insert(t, om, 2, 2, 1)
	waitCommitted(t, om, 2, 5)
	require.Empty(t, snapshot(om, 2).window)
}

func TestMultiplePartitions(t *testing.T) {
	t.Parallel()
	om := newTestOffsetManager(t, &fakeCommitter{}, nil,
		kafka.TopicPartition{Partition: 0, Offset: 0},
		kafka.TopicPartition{Partition: 3, Offset: 5},
	)

	insert(t, om, 0, 0, 1, 2, 3)
	insert(t, om, 3, 3, 4, 5, 6)

	waitCommitted(t, om, 0, 3)
	waitCommitted(t, om, 3, 6)
}

func TestDuplicateOffsetsNeverMoveCommitBackwards(t *testing.T) {
	t.Parallel()
	c := &fakeCommitter{}
	om := newTestOffsetManager(t, c, nil, kafka.TopicPartition{Partition: 0, Offset: 5})

	insert(t, om, 0, 2, 3)
	time.Sleep(30 * time.Millisecond)

	s := snapshot(om, 0)
	require.Equal(t, kafka.Offset(5), s.lastCommitted)
	require.Empty(t, s.window)
	c.mu.Lock()
	require.Empty(t, c.commits)
	c.mu.Unlock()
}

func TestUnassignedPartitionOffsetIgnored(t *testing.T) {
	t.Parallel()
	om := newTestOffsetManager(t, &fakeCommitter{}, nil, kafka.TopicPartition{Partition: 0, Offset: 0})

	insert(t, om, 7, 1)
	require.Nil(t, snapshot(om, 7))
}

func TestStoredOffsetBelowLowWatermarkIsInvalidated(t *testing.T) {
	t.Parallel()
	c := &fakeCommitter{low: 100}
	om := newTestOffsetManager(t, c, nil, kafka.TopicPartition{Partition: 0, Offset: 10})

	require.Equal(t, kafka.OffsetInvalid, snapshot(om, 0).lastCommitted)

	// the first dispatched message anchors the window
	om.MarkDispatched(kafka.TopicPartition{Partition: 0, Offset: 150})
	insert(t, om, 0, 151, 152)
	waitCommitted(t, om, 0, 152)
}

// Without a stored offset, a later message that finishes first must not be
// committed past an earlier message that is still processing.
func TestFreshPartitionWaitsForEarlierMessage(t *testing.T) {
	t.Parallel()
	c := &fakeCommitter{}
	om := NewOffsetManager(t.Context(), c, time.Hour, "earliest", createLogger(t), nil)
	require.NoError(t, om.RebalanceCb(nil, kafka.AssignedPartitions{
		Partitions: []kafka.TopicPartition{{Partition: 0, Offset: kafka.OffsetInvalid}},
	}))

	topic := "readings"
	msg := func(o kafka.Offset) *kafka.Message {
		return &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: o}}
	}
	om.MarkDispatched(msg(0).TopicPartition)
	om.MarkDispatched(msg(1).TopicPartition)

	om.InsertOffsetWithRetry(t.Context(), msg(1))
	om.commitLatestValidOffsets()
	c.mu.Lock()
	require.Empty(t, c.commits)
	c.mu.Unlock()
	require.Equal(t, kafka.Offset(0), snapshot(om, 0).lastCommitted)

	om.InsertOffsetWithRetry(t.Context(), msg(0))
	om.commitLatestValidOffsets()
	c.mu.Lock()
	require.Len(t, c.commits, 1)
	require.Equal(t, kafka.Offset(2), c.commits[0].Offset)
	c.mu.Unlock()
}

func TestUnanchoredPartitionDoesNotCommit(t *testing.T) {
	t.Parallel()
	c := &fakeCommitter{}
	om := NewOffsetManager(t.Context(), c, time.Hour, "earliest", createLogger(t), nil)
	require.NoError(t, om.RebalanceCb(nil, kafka.AssignedPartitions{
		Partitions: []kafka.TopicPartition{{Partition: 0, Offset: kafka.OffsetInvalid}},
	}))

	insert(t, om, 0, 2)
	om.commitLatestValidOffsets()
	c.mu.Lock()
	require.Empty(t, c.commits)
	c.mu.Unlock()

	// a stored offset is never replaced by a later dispatch
	om.MarkDispatched(kafka.TopicPartition{Partition: 0, Offset: 1})
	om.MarkDispatched(kafka.TopicPartition{Partition: 0, Offset: 5})
	require.Equal(t, kafka.Offset(1), snapshot(om, 0).lastCommitted)
	om.commitLatestValidOffsets()
	require.Equal(t, kafka.Offset(2), snapshot(om, 0).lastCommitted)
}

func TestCommitFailureKeepsWindow(t *testing.T) {
	t.Parallel()
	c := &fakeCommitter{commitErr: errors.New("coordinator not available")}
	rec := &fakeOffsetRecorder{}
	om := newTestOffsetManager(t, c, rec, kafka.TopicPartition{Partition: 0, Offset: 0})

	insert(t, om, 0, 1, 2)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.failed > 0
	}, time.Second, 5*time.Millisecond)

	s := snapshot(om, 0)
	require.Equal(t, kafka.Offset(0), s.lastCommitted)
	require.Len(t, s.window, 2)
}

func TestOffsetMetricsRecorded(t *testing.T) {
	t.Parallel()
	rec := &fakeOffsetRecorder{}
	om := newTestOffsetManager(t, &fakeCommitter{}, rec, kafka.TopicPartition{Partition: 4, Offset: 0})

	insert(t, om, 4, 1, 2, 9)
	waitCommitted(t, om, 4, 2)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, u := range rec.updates {
			if u.partition == 4 && u.lastCommitted == 2 && u.latest == 9 && u.window == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

// A second assignment leaves existing partitions alone; revocation drops state.
func TestRebalanceEvent(t *testing.T) {
	t.Parallel()
	om := newTestOffsetManager(t, &fakeCommitter{}, nil, kafka.TopicPartition{Partition: 0, Offset: 0})

	insert(t, om, 0, 0, 1, 2)
	waitCommitted(t, om, 0, 2)

	require.NoError(t, om.RebalanceCb(nil, kafka.AssignedPartitions{
		Partitions: []kafka.TopicPartition{{Partition: 3, Offset: 5}},
	}))
	require.Equal(t, kafka.Offset(2), snapshot(om, 0).lastCommitted)
	require.Equal(t, kafka.Offset(5), snapshot(om, 3).lastCommitted)

	insert(t, om, 3, 5, 6)
	require.NoError(t, om.RebalanceCb(nil, kafka.RevokedPartitions{
		Partitions: []kafka.TopicPartition{{Partition: 0}},
	}))
	waitCommitted(t, om, 3, 6)

	insert(t, om, 0, 8)
	require.Nil(t, snapshot(om, 0))

	require.NoError(t, om.RebalanceCb(nil, kafka.RevokedPartitions{
		Partitions: []kafka.TopicPartition{{Partition: 3}},
	}))
	om.mutex.Lock()
	require.Empty(t, om.partitionStates)
	om.mutex.Unlock()
}
