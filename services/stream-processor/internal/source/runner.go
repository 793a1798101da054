// Package source feeds change-feed topics into a record processor, one batch per partition at a time.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/processor"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

var errRetryable = errors.New("batch has retryable failures")

// BatchProcessor is satisfied by *processor.Processor.
type BatchProcessor interface {
	Aggregate() string
	Process(ctx context.Context, records []changefeed.ChangeRecord) processor.BatchResult
}

// MessageWriter writes dead letters; *kafka.Writer satisfies it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	Brokers      string
	GroupID      string
	Topic        string
	BatchSize    int
	BatchWindow  time.Duration
	BatchTimeout time.Duration
	MaxAttempts  uint
	DLQTopic     string
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = 500 * time.Millisecond
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
}

type Runner struct {
	reader  kafkax.MessageReader
	proc    BatchProcessor
	dlq     MessageWriter
	logger  *slog.Logger
	metrics metrics.Sink
	cfg     Config
	backoff func() backoff.BackOff
	now     func() time.Time
}

func NewRunner(proc BatchProcessor, dlq MessageWriter, logger *slog.Logger, sink metrics.Sink, cfg Config) *Runner {
	cfg.defaults()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewRunnerWithReader(reader, proc, dlq, logger, sink, cfg)
}

func NewRunnerWithReader(reader kafkax.MessageReader, proc BatchProcessor, dlq MessageWriter, logger *slog.Logger, sink metrics.Sink, cfg Config) *Runner {
	cfg.defaults()
	return &Runner{
		reader:  reader,
		proc:    proc,
		dlq:     dlq,
		logger:  logger.With("aggregate", proc.Aggregate(), "topic", cfg.Topic),
		metrics: sink,
		cfg:     cfg,
		backoff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		now:     time.Now,
	}
}

// Run blocks until ctx ends or a batch cannot be settled. Offsets are committed only after every
// record of a batch was published, ignored, skipped or dead-lettered, so an error return means the
// unsettled batch is redelivered on restart.
func (r *Runner) Run(ctx context.Context) error {
	defer r.reader.Close()

	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	partitions := map[int]chan kafka.Message{}

	g.Go(func() error {
		defer func() {
			mu.Lock()
			for _, ch := range partitions {
				close(ch)
			}
			mu.Unlock()
		}()
		for {
			msg, err := r.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("kafka read error", "err", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
				continue
			}

			mu.Lock()
			ch, ok := partitions[msg.Partition]
			if !ok {
				ch = make(chan kafka.Message, r.cfg.BatchSize)
				partitions[msg.Partition] = ch
				partition := msg.Partition
				g.Go(func() error { return r.partitionLoop(ctx, partition, ch) })
			}
			mu.Unlock()

			select {
			case ch <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) partitionLoop(ctx context.Context, partition int, in <-chan kafka.Message) error {
	batch := make([]kafka.Message, 0, r.cfg.BatchSize)
	timer := time.NewTimer(r.cfg.BatchWindow)
	timer.Stop()
	defer timer.Stop()
	var deadline <-chan time.Time

	flush := func() error {
		deadline = nil
		timer.Stop()
		if len(batch) == 0 {
			return nil
		}
		err := r.HandleBatch(ctx, batch)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			batch = append(batch, msg)
			if len(batch) == 1 {
				timer.Reset(r.cfg.BatchWindow)
				deadline = timer.C
			}
			if len(batch) >= r.cfg.BatchSize {
				if err := flush(); err != nil {
					return fmt.Errorf("partition %d: %w", partition, err)
				}
			}
		case <-deadline:
			if err := flush(); err != nil {
				return fmt.Errorf("partition %d: %w", partition, err)
			}
		}
	}
}

type item struct {
	msg kafka.Message
	rec changefeed.ChangeRecord
}

type deadItem struct {
	msg      kafka.Message
	eventID  string
	keys     string
	err      error
	attempts int
}

// HandleBatch settles one batch of messages from a single partition and commits them.
// Retryable failures are re-run with exponential backoff; whatever is still failing after
// MaxAttempts, and every malformed record, goes to the dead-letter topic.
func (r *Runner) HandleBatch(ctx context.Context, msgs []kafka.Message) error {
	aggregateLabel := metrics.L("aggregate", r.proc.Aggregate())
	var dead []deadItem
	pending := make([]item, 0, len(msgs))
	for _, msg := range msgs {
		var rec changefeed.ChangeRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			dead = append(dead, deadItem{msg: msg, keys: string(msg.Key), err: fmt.Errorf("decode change record: %w", err), attempts: 1})
			continue
		}
		pending = append(pending, item{msg: msg, rec: rec})
	}

	attempts := 0
	var lastFailures map[int]processor.RecordFailure
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if len(pending) == 0 {
			return struct{}{}, nil
		}
		attempts++
		batchCtx, cancel := context.WithTimeout(ctx, r.cfg.BatchTimeout)
		defer cancel()

		records := make([]changefeed.ChangeRecord, len(pending))
		for i, it := range pending {
			records[i] = it.rec
		}
		res := r.proc.Process(batchCtx, records)
		r.metrics.Inc(ctx, "batches_total", aggregateLabel)

		var retry []item
		lastFailures = map[int]processor.RecordFailure{}
		for _, f := range res.Failures {
			if f.Retryable {
				lastFailures[len(retry)] = f
				retry = append(retry, pending[f.Index])
				continue
			}
			dead = append(dead, deadItem{msg: pending[f.Index].msg, eventID: f.EventID, keys: f.Keys, err: f.Err, attempts: attempts})
		}
		for _, it := range pending[len(pending)-res.Unprocessed:] {
			retry = append(retry, it)
		}
		pending = retry

		if len(pending) > 0 {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			r.logger.Warn("batch has retryable failures", "attempt", attempts, "pending", len(pending))
			return struct{}{}, errRetryable
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(r.backoff()), backoff.WithMaxTries(r.cfg.MaxAttempts))

	if ctx.Err() != nil {
		// Shutting down: leave the batch uncommitted so it is redelivered.
		return ctx.Err()
	}
	if err != nil {
		for i, it := range pending {
			f := lastFailures[i]
			cause := f.Err
			if cause == nil {
				cause = err
			}
			dead = append(dead, deadItem{msg: it.msg, eventID: it.rec.Identifier(), keys: it.rec.KeyString(), err: cause, attempts: attempts})
		}
	}

	if len(dead) > 0 {
		if err := r.deadLetter(ctx, dead); err != nil {
			return err
		}
		r.metrics.Inc(ctx, "records_dead_lettered_total", aggregateLabel)
	}

	if err := r.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (r *Runner) deadLetter(ctx context.Context, dead []deadItem) error {
	if r.dlq == nil || r.cfg.DLQTopic == "" {
		for _, d := range dead {
			r.logger.Error("record dropped, no dead-letter topic", "offset", d.msg.Offset, "keys", d.keys, "err", d.err)
		}
		return nil
	}

	out := make([]kafka.Message, 0, len(dead))
	for _, d := range dead {
		letter := DeadLetter{
			Aggregate: r.proc.Aggregate(),
			Topic:     d.msg.Topic,
			Partition: d.msg.Partition,
			Offset:    d.msg.Offset,
			EventID:   d.eventID,
			Keys:      d.keys,
			Error:     d.err.Error(),
			Attempts:  d.attempts,
			FailedAt:  r.now().UTC(),
			Record:    rawRecord(d.msg.Value),
		}
		msg, err := letter.message(r.cfg.DLQTopic, uuid.NewString())
		if err != nil {
			return fmt.Errorf("encode dead letter: %w", err)
		}
		out = append(out, msg)
		r.logger.Error("record dead-lettered", "offset", d.msg.Offset, "event_id", d.eventID, "keys", d.keys, "attempts", d.attempts, "err", d.err)
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.dlq.WriteMessages(ctx, out...)
	}, backoff.WithBackOff(r.backoff()), backoff.WithMaxTries(r.cfg.MaxAttempts))
	if err != nil {
		return fmt.Errorf("write dead letters: %w", err)
	}
	return nil
}
