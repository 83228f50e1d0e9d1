package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"memfuse/internal/queue"
	"memfuse/internal/store"
)

// Trigger decides, per spec, when a session's completed rounds are worth
// mining: a single round whose token count exceeds singleThreshold is
// enqueued immediately; otherwise rounds accumulate until their combined
// token count exceeds batchThreshold, then a single batch job is enqueued.
type Trigger struct {
	producer        queue.Producer
	jobsTopic       string
	store           *store.Store
	singleThreshold int
	batchThreshold  int

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

type pendingBatch struct {
	roundIDs []int
	tokens   int
}

// NewTrigger builds a Trigger that publishes jobs to jobsTopic via producer.
func NewTrigger(producer queue.Producer, jobsTopic string, st *store.Store, singleThreshold, batchThreshold int) *Trigger {
	return &Trigger{
		producer:        producer,
		jobsTopic:       jobsTopic,
		store:           st,
		singleThreshold: singleThreshold,
		batchThreshold:  batchThreshold,
		pending:         make(map[string]*pendingBatch),
	}
}

// OnRoundComplete is called once a round's turns have both landed, with the
// round's combined token count. It enqueues immediately, accumulates into
// the session's pending batch, or flushes that batch, per the trigger rules.
func (t *Trigger) OnRoundComplete(ctx context.Context, sessionID string, roundID, tokens int) error {
	if tokens > t.singleThreshold {
		return t.enqueue(ctx, sessionID, []int{roundID})
	}

	t.mu.Lock()
	b, ok := t.pending[sessionID]
	if !ok {
		b = &pendingBatch{}
		t.pending[sessionID] = b
	}
	b.roundIDs = append(b.roundIDs, roundID)
	b.tokens += tokens
	flush := b.tokens > t.batchThreshold
	var roundIDs []int
	if flush {
		roundIDs = b.roundIDs
		delete(t.pending, sessionID)
	}
	t.mu.Unlock()

	if !flush {
		return nil
	}
	return t.enqueue(ctx, sessionID, roundIDs)
}

// Resume checks a session's persisted extraction marker against its full
// turn history and re-enqueues any rounds that were never mined — the
// crash-recovery path: a worker that dies between consuming a job and the
// transactional marker update leaves the marker behind, so the next time
// this session is touched its outstanding rounds are picked up again.
func (t *Trigger) Resume(ctx context.Context, sessionID string) error {
	lastExtracted, err := t.store.LastExtractedRound(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("trigger resume: %w", err)
	}
	turns, err := t.store.AllTurns(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("trigger resume: %w", err)
	}

	seen := make(map[int]struct{})
	var outstanding []int
	for _, turn := range turns {
		if turn.RoundID <= lastExtracted {
			continue
		}
		if _, ok := seen[turn.RoundID]; ok {
			continue
		}
		seen[turn.RoundID] = struct{}{}
		outstanding = append(outstanding, turn.RoundID)
	}
	if len(outstanding) == 0 {
		return nil
	}
	return t.enqueue(ctx, sessionID, outstanding)
}

func (t *Trigger) enqueue(ctx context.Context, sessionID string, roundIDs []int) error {
	ids := make([]string, len(roundIDs))
	for i, r := range roundIDs {
		ids[i] = strconv.Itoa(r)
	}
	job := queue.ExtractionJob{
		JobID:      uuid.NewString(),
		SessionID:  sessionID,
		RoundIDs:   ids,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal extraction job: %w", err)
	}
	return t.producer.WriteMessages(ctx, kafka.Message{
		Topic: t.jobsTopic,
		Key:   []byte(job.JobID),
		Value: payload,
	})
}
