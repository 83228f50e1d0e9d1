package extractor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/queue"
)

type fakeProducer struct {
	msgs []kafka.Message
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestTrigger_OnRoundComplete_ImmediateEnqueueAboveSingleThreshold(t *testing.T) {
	p := &fakeProducer{}
	tr := NewTrigger(p, "memfuse.extractor.jobs", nil, 2000, 6000)

	err := tr.OnRoundComplete(context.Background(), "sess-1", 3, 2500)

	require.NoError(t, err)
	require.Len(t, p.msgs, 1)
	var job queue.ExtractionJob
	require.NoError(t, json.Unmarshal(p.msgs[0].Value, &job))
	assert.Equal(t, "sess-1", job.SessionID)
	assert.Equal(t, []string{"3"}, job.RoundIDs)
}

func TestTrigger_OnRoundComplete_AccumulatesUntilBatchThreshold(t *testing.T) {
	p := &fakeProducer{}
	tr := NewTrigger(p, "memfuse.extractor.jobs", nil, 2000, 6000)

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-1", 1, 2000))
	assert.Empty(t, p.msgs, "under batch threshold should not enqueue yet")

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-1", 2, 2000))
	assert.Empty(t, p.msgs)

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-1", 3, 2500))
	require.Len(t, p.msgs, 1)

	var job queue.ExtractionJob
	require.NoError(t, json.Unmarshal(p.msgs[0].Value, &job))
	assert.Equal(t, []string{"1", "2", "3"}, job.RoundIDs)
}

func TestTrigger_OnRoundComplete_ResetsPendingAfterFlush(t *testing.T) {
	p := &fakeProducer{}
	tr := NewTrigger(p, "memfuse.extractor.jobs", nil, 2000, 1000)

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-1", 1, 1500))
	require.Len(t, p.msgs, 1)

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-1", 2, 100))
	assert.Len(t, p.msgs, 1, "a fresh small round should start a new pending batch, not flush immediately")
}

func TestTrigger_OnRoundComplete_TracksSessionsIndependently(t *testing.T) {
	p := &fakeProducer{}
	tr := NewTrigger(p, "memfuse.extractor.jobs", nil, 2000, 1000)

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-a", 1, 600))
	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-b", 1, 600))
	assert.Empty(t, p.msgs)

	require.NoError(t, tr.OnRoundComplete(context.Background(), "sess-a", 2, 600))
	require.Len(t, p.msgs, 1)
	var job queue.ExtractionJob
	require.NoError(t, json.Unmarshal(p.msgs[0].Value, &job))
	assert.Equal(t, "sess-a", job.SessionID)
}
