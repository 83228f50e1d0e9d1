package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Worker consumes extractor jobs from a Kafka topic with a bounded worker
// pool, retrying transient failures with backoff before routing to the DLQ.
type Worker struct {
	Brokers        []string
	GroupID        string
	JobsTopic      string
	ResultTopic    string
	WorkerCount    int
	DedupeTTL      time.Duration
	JobTimeout     time.Duration
	MaxAttempts    int
}

// Run blocks, consuming jobs and dispatching them to runner, until ctx is
// canceled; other fetch errors are logged and the fetch is retried.
func (w *Worker) Run(ctx context.Context, runner Runner, dedupe DedupeStore, producer *kafka.Writer) error {
	workers := w.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	maxAttempts := w.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  w.Brokers,
		GroupID:  w.GroupID,
		Topic:    w.JobsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	jobs := make(chan kafka.Message, workers*4)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				w.handleWithRetry(ctx, runner, dedupe, producer, msg, maxAttempts)
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error().Err(err).Msg("extractor queue commit failed")
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				log.Error().Err(err).Msg("extractor queue fetch error")
				time.Sleep(500 * time.Millisecond)
				continue
			}
			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func (w *Worker) handleWithRetry(ctx context.Context, runner Runner, dedupe DedupeStore, producer Producer, msg kafka.Message, maxAttempts int) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := HandleJobMessage(ctx, runner, dedupe, producer, msg, w.ResultTopic, w.DedupeTTL, w.JobTimeout); err != nil {
			lastErr = err
			if attempt < maxAttempts && ctx.Err() == nil {
				backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
				time.Sleep(backoff)
				continue
			}
			publishDLQ(ctx, producer, w.ResultTopic, ExtractionResult{Status: "error", Error: lastErr.Error()})
		}
		return
	}
}

// DialBrokers verifies at least one broker is reachable within timeout.
func DialBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errors.New("no reachable extractor queue broker"), lastErr)
}

// EnsureTopics creates any of the given topics that don't already exist.
func EnsureTopics(ctx context.Context, brokers []string, configs []kafka.TopicConfig) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	for _, cfg := range configs {
		if parts, _ := ctrlConn.ReadPartitions(cfg.Topic); len(parts) > 0 {
			continue
		}
		if err := ctrlConn.CreateTopics(cfg); err != nil {
			return err
		}
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
