package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// ExtractionJob is the message body carried on the extractor jobs topic. It
// names a contiguous range of turns within a session that should be mined
// for facts, per the trigger rules in the extractor's round-aggregation
// window.
type ExtractionJob struct {
	JobID     string   `json:"job_id"`
	SessionID string   `json:"session_id"`
	RoundIDs  []string `json:"round_ids"`
	EnqueuedAt string  `json:"enqueued_at,omitempty"`
}

// ExtractionResult is published to the result topic (and to the DLQ topic on
// permanent failure) after a job is processed.
type ExtractionResult struct {
	JobID       string `json:"job_id"`
	SessionID   string `json:"session_id"`
	Status      string `json:"status"` // "ok" | "error"
	FactsWritten int   `json:"facts_written,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Runner performs the actual extraction work for a job and returns how many
// facts were written.
type Runner interface {
	Run(ctx context.Context, job ExtractionJob) (factsWritten int, err error)
}

// Producer abstracts the subset of *kafka.Writer used here, for testability.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// HandleJobMessage decodes and processes one Kafka message containing an
// ExtractionJob. Transient errors are returned so the caller can retry;
// permanent errors are routed to the DLQ topic and nil is returned so the
// caller can commit the offset and move on.
func HandleJobMessage(
	ctx context.Context,
	runner Runner,
	dedupe DedupeStore,
	producer Producer,
	msg kafka.Message,
	resultTopic string,
	dedupeTTL time.Duration,
	jobTimeout time.Duration,
) error {
	var job ExtractionJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		publishDLQ(ctx, producer, resultTopic, ExtractionResult{
			JobID:  string(msg.Key),
			Status: "error",
			Error:  fmt.Sprintf("malformed job JSON: %v", err),
		})
		return nil
	}

	if job.JobID == "" {
		publishDLQ(ctx, producer, resultTopic, ExtractionResult{
			SessionID: job.SessionID,
			Status:    "error",
			Error:     "missing job_id",
		})
		return nil
	}

	dedupeKey := dedupeKeyFor(job)
	if prev, err := dedupe.Get(ctx, dedupeKey); err != nil {
		return fmt.Errorf("dedupe get failed: %w", err)
	} else if prev != "" {
		log.Debug().Str("job_id", job.JobID).Msg("extractor job already processed, skipping")
		return nil
	}

	if len(job.RoundIDs) == 0 {
		publishDLQ(ctx, producer, resultTopic, ExtractionResult{JobID: job.JobID, SessionID: job.SessionID, Status: "error", Error: "empty round_ids"})
		return nil
	}

	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if jobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, jobTimeout)
	}
	defer cancel()

	written, err := runner.Run(runCtx, job)
	if err != nil {
		if isTransient(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("transient extraction error (job_id=%s): %w", job.JobID, err)
		}
		publishDLQ(ctx, producer, resultTopic, ExtractionResult{JobID: job.JobID, SessionID: job.SessionID, Status: "error", Error: err.Error()})
		return nil
	}

	result := ExtractionResult{JobID: job.JobID, SessionID: job.SessionID, Status: "ok", FactsWritten: written}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("result marshal failed (job_id=%s): %w", job.JobID, err)
	}
	if werr := producer.WriteMessages(ctx, kafka.Message{Topic: resultTopic, Key: []byte(job.JobID), Value: payload}); werr != nil {
		return fmt.Errorf("producer write failed (job_id=%s): %w", job.JobID, werr)
	}
	if err := dedupe.Set(ctx, dedupeKey, string(payload), dedupeTTL); err != nil {
		return fmt.Errorf("dedupe set failed (job_id=%s): %w", job.JobID, err)
	}
	log.Info().Str("job_id", job.JobID).Str("session_id", job.SessionID).Int("facts_written", written).Msg("extractor job processed")
	return nil
}

func dedupeKeyFor(job ExtractionJob) string {
	return fmt.Sprintf("extractor:dedupe:%s:%s", job.SessionID, strings.Join(job.RoundIDs, ","))
}

func publishDLQ(ctx context.Context, producer Producer, resultTopic string, result ExtractionResult) {
	payload, _ := json.Marshal(result)
	dlqTopic := dlqTopicFor(resultTopic)
	if err := producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(result.JobID), Value: payload}); err != nil {
		log.Error().Err(err).Str("job_id", result.JobID).Msg("failed to publish to extractor DLQ")
		return
	}
	log.Warn().Str("job_id", result.JobID).Str("error", result.Error).Msg("published extractor job to DLQ")
}

func dlqTopicFor(resultTopic string) string {
	rt := strings.TrimSpace(resultTopic)
	if rt == "" {
		return "memfuse.extractor.dlq"
	}
	if strings.HasSuffix(rt, ".dlq") {
		return rt
	}
	return rt + ".dlq"
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "temporar") ||
		strings.Contains(s, "transient") ||
		strings.Contains(s, "retry") ||
		strings.Contains(s, "too many requests")
}
