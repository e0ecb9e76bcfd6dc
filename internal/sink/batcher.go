// Package sink buffers extracted records and appends them to the store in
// bounded batches.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"stratasample/internal/model"
)

const DefaultMaxSize = 500_000

// Policy decides what happens to a batch whose append fails.
type Policy string

const (
	PolicyAbort Policy = "abort"
	PolicyRetry Policy = "retry"
	PolicyDrop  Policy = "drop"
	PolicyStage Policy = "stage"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyAbort, nil
	case PolicyAbort, PolicyRetry, PolicyDrop, PolicyStage:
		return p, nil
	default:
		return "", fmt.Errorf("unknown flush policy %q (want abort, retry, drop or stage)", s)
	}
}

// Flush outcomes reported through OnFlush.
const (
	OutcomeInserted = "inserted"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
	OutcomeStaged   = "staged"
)

// Appender is the part of storage.Store the sink writes through.
type Appender interface {
	Append(ctx context.Context, table model.TableName, srid int, records []model.Record) error
}

type Options struct {
	Table   model.TableName
	SRID    int
	MaxSize int
	Policy  Policy
	// StageDir receives failed batches under PolicyStage.
	StageDir string
	// NewBackOff builds the retry schedule for PolicyRetry.
	NewBackOff func() backoff.BackOff
}

// Stats summarises what the batcher did with the records it received.
type Stats struct {
	Received    int64    `json:"received"`
	Inserted    int64    `json:"inserted"`
	Dropped     int64    `json:"dropped"`
	Staged      int64    `json:"staged"`
	Flushes     int      `json:"flushes"`
	LargestSize int      `json:"largest_batch"`
	StagedFiles []string `json:"staged_files,omitempty"`
}

type Batcher struct {
	store  Appender
	opts   Options
	logger logrus.FieldLogger

	buf   []model.Record
	stats Stats

	// OnFlush, when set, observes every flush attempt.
	OnFlush func(outcome string, records int)
}

func NewBatcher(store Appender, opts Options, logger logrus.FieldLogger) (*Batcher, error) {
	if store == nil {
		return nil, errors.New("sink requires a store")
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxSize < 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.MaxSize)
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.Policy == PolicyStage && opts.StageDir == "" {
		return nil, errors.New("stage policy requires a staging directory")
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	return &Batcher{
		store:  store,
		opts:   opts,
		logger: logger,
		buf:    make([]model.Record, 0, min(opts.MaxSize, 4096)),
	}, nil
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 2 * time.Minute
	return backoff.WithMaxRetries(eb, 6)
}

// Add buffers rec and flushes once the buffer holds MaxSize records.
func (b *Batcher) Add(ctx context.Context, rec model.Record) error {
	b.buf = append(b.buf, rec)
	b.stats.Received++
	if len(b.buf) >= b.opts.MaxSize {
		return b.Flush(ctx)
	}
	return nil
}

// Flush appends the buffered records. The buffer is empty afterwards
// whatever the outcome.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	defer func() {
		b.buf = b.buf[:0]
	}()

	b.stats.Flushes++
	b.stats.LargestSize = max(b.stats.LargestSize, len(batch))
	logger := b.logger.WithField("action", "batch_flushed").
		WithField("table", b.opts.Table.String()).
		WithField("records", len(batch))

	err := b.append(ctx, batch)
	if err == nil {
		b.stats.Inserted += int64(len(batch))
		b.observe(OutcomeInserted, len(batch))
		logger.WithField("inserted_total", b.stats.Inserted).
			Infof("inserted %s records (%s total)", humanize.Comma(int64(len(batch))), humanize.Comma(b.stats.Inserted))
		return nil
	}

	switch b.opts.Policy {
	case PolicyDrop:
		b.stats.Dropped += int64(len(batch))
		b.observe(OutcomeDropped, len(batch))
		logger.WithError(err).Error("flush failed, batch dropped")
		return nil
	case PolicyStage:
		path, stageErr := WriteStaged(b.opts.StageDir, StagedBatch{
			Table:   b.opts.Table,
			SRID:    b.opts.SRID,
			Records: batch,
		})
		if stageErr != nil {
			b.observe(OutcomeFailed, len(batch))
			return fmt.Errorf("flush %d records: %w (staging failed: %v)", len(batch), err, stageErr)
		}
		b.stats.Staged += int64(len(batch))
		b.stats.StagedFiles = append(b.stats.StagedFiles, path)
		b.observe(OutcomeStaged, len(batch))
		logger.WithError(err).WithField("path", path).Warn("flush failed, batch staged for replay")
		return nil
	default:
		b.observe(OutcomeFailed, len(batch))
		return fmt.Errorf("flush %d records to %s: %w", len(batch), b.opts.Table, err)
	}
}

func (b *Batcher) append(ctx context.Context, batch []model.Record) error {
	if b.opts.Policy != PolicyRetry {
		return b.store.Append(ctx, b.opts.Table, b.opts.SRID, batch)
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := b.store.Append(ctx, b.opts.Table, b.opts.SRID, batch)
		if err != nil {
			b.logger.WithField("action", "batch_retry").
				WithField("attempt", attempt).
				WithError(err).
				Warn("flush attempt failed")
		}
		return err
	}, backoff.WithContext(b.opts.NewBackOff(), ctx))
}

func (b *Batcher) observe(outcome string, n int) {
	if b.OnFlush != nil {
		b.OnFlush(outcome, n)
	}
}

// Inserted is the running total of records appended successfully.
func (b *Batcher) Inserted() int64 {
	return b.stats.Inserted
}

// Pending is the number of buffered, unflushed records.
func (b *Batcher) Pending() int {
	return len(b.buf)
}

func (b *Batcher) Stats() Stats {
	out := b.stats
	out.StagedFiles = append([]string(nil), b.stats.StagedFiles...)
	return out
}
