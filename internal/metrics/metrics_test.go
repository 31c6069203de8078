package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequestCounts(t *testing.T) {
	r := New()
	r.RecordRequest(true)
	r.RecordRequest(false)
	r.RecordRequest(true)

	total, errs := r.RequestCounts()
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), errs)
}

func TestOutboxSnapshotsAggregatePerEventType(t *testing.T) {
	r := New()
	r.RecordOutboxOutcome("om_observe_buffer_requested", "done")
	r.RecordOutboxOutcome("om_observe_buffer_requested", "requeued")
	r.RecordOutboxOutcome("om_reflect_requested", "dead_letter")

	snaps := r.OutboxSnapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "om_observe_buffer_requested", snaps[0].EventType)
	assert.Equal(t, int64(1), snaps[0].Done)
	assert.Equal(t, int64(1), snaps[0].Requeued)
	assert.Equal(t, "om_reflect_requested", snaps[1].EventType)
	assert.Equal(t, int64(1), snaps[1].DeadLetter)
}

func TestDRRHistogramBucketsByLatency(t *testing.T) {
	r := New()
	r.RecordDRRLatency(3 * time.Millisecond)
	r.RecordDRRLatency(40 * time.Millisecond)
	r.RecordDRRLatency(9000 * time.Millisecond)

	hist := r.DRRHistogram()
	assert.Equal(t, int64(1), hist["le_5ms"])
	assert.Equal(t, int64(1), hist["le_50ms"])
	assert.Equal(t, int64(1), hist["le_inf"])
}
