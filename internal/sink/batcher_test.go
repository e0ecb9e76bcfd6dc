package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratasample/internal/identity"
	"stratasample/internal/model"
)

var table = model.TableName{Schema: "humedales", Name: "muestras"}

// recordingStore fails the first failures appends, then succeeds. Its table
// exists once a batch was appended.
type recordingStore struct {
	failures int
	calls    int
	batches  [][]model.Record
	queryErr error
}

func (s *recordingStore) TableExists(_ context.Context, _ model.TableName) (bool, error) {
	if s.queryErr != nil {
		return false, s.queryErr
	}
	return len(s.batches) > 0, nil
}

func (s *recordingStore) DistinctIdentities(_ context.Context, _ model.TableName) (model.IdentitySet, error) {
	set := model.IdentitySet{}
	for _, b := range s.batches {
		for _, rec := range b {
			set.Add(rec.SampleID)
		}
	}
	return set, nil
}

func (s *recordingStore) Append(_ context.Context, _ model.TableName, _ int, records []model.Record) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset")
	}
	s.batches = append(s.batches, append([]model.Record(nil), records...))
	return nil
}

func (s *recordingStore) total() int {
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func records(n int) []model.Record {
	out := make([]model.Record, n)
	for i := range out {
		out[i] = model.Record{SampleID: identity.Key(i, 0), Year: 2015, ClassName: "Vegas y mallines", Value: int64(i)}
	}
	return out
}

func newBatcher(t *testing.T, store Appender, opts Options) *Batcher {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts.Table = table
	b, err := NewBatcher(store, opts, logger)
	require.NoError(t, err)
	return b
}

func TestBatcherNeverExceedsMaxSize(t *testing.T) {
	store := &recordingStore{}
	b := newBatcher(t, store, Options{MaxSize: 4})

	ctx := context.Background()
	for _, rec := range records(10) {
		require.NoError(t, b.Add(ctx, rec))
	}
	assert.Equal(t, 2, b.Pending())
	require.NoError(t, b.Flush(ctx))

	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 4)
	assert.Len(t, store.batches[1], 4)
	assert.Len(t, store.batches[2], 2)
	assert.Equal(t, 10, store.total())
	assert.Equal(t, int64(10), b.Inserted())
	assert.Equal(t, 4, b.Stats().LargestSize)
	assert.Zero(t, b.Pending())

	// Records keep production order across batches.
	assert.Equal(t, int64(4), store.batches[1][0].Value)
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	store := &recordingStore{}
	b := newBatcher(t, store, Options{MaxSize: 4})
	require.NoError(t, b.Flush(context.Background()))
	assert.Zero(t, store.calls)
	assert.Zero(t, b.Stats().Flushes)
}

func TestBatcherAbortReturnsErrorAndClearsBuffer(t *testing.T) {
	store := &recordingStore{failures: 1}
	b := newBatcher(t, store, Options{MaxSize: 3})

	ctx := context.Background()
	var err error
	for _, rec := range records(3) {
		if err = b.Add(ctx, rec); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Zero(t, b.Pending())
	assert.Zero(t, b.Inserted())
}

func TestBatcherDropLosesOnlyFailedBatch(t *testing.T) {
	store := &recordingStore{failures: 1}
	b := newBatcher(t, store, Options{MaxSize: 2, Policy: PolicyDrop})

	var outcomes []string
	b.OnFlush = func(outcome string, _ int) { outcomes = append(outcomes, outcome) }

	ctx := context.Background()
	for _, rec := range records(5) {
		require.NoError(t, b.Add(ctx, rec))
	}
	require.NoError(t, b.Flush(ctx))

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, int64(3), stats.Inserted)
	assert.Equal(t, int64(5), stats.Received)
	assert.Equal(t, []string{OutcomeDropped, OutcomeInserted, OutcomeInserted}, outcomes)
}

func TestBatcherRetryRecovers(t *testing.T) {
	store := &recordingStore{failures: 2}
	b := newBatcher(t, store, Options{
		MaxSize: 5,
		Policy:  PolicyRetry,
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		},
	})

	ctx := context.Background()
	for _, rec := range records(5) {
		require.NoError(t, b.Add(ctx, rec))
	}
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, int64(5), b.Inserted())
}

func TestBatcherRetryGivesUp(t *testing.T) {
	store := &recordingStore{failures: 10}
	b := newBatcher(t, store, Options{
		MaxSize: 1,
		Policy:  PolicyRetry,
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	})

	err := b.Add(context.Background(), records(1)[0])
	require.Error(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Zero(t, b.Pending())
}

func TestBatcherStageWritesReplayableFile(t *testing.T) {
	dir := t.TempDir()
	failing := &recordingStore{failures: 1}
	b := newBatcher(t, failing, Options{MaxSize: 3, SRID: 32719, Policy: PolicyStage, StageDir: dir})

	ctx := context.Background()
	for _, rec := range records(3) {
		require.NoError(t, b.Add(ctx, rec))
	}
	stats := b.Stats()
	assert.Equal(t, int64(3), stats.Staged)
	require.Len(t, stats.StagedFiles, 1)

	batch, err := ReadStaged(stats.StagedFiles[0])
	require.NoError(t, err)
	assert.Equal(t, table, batch.Table)
	assert.Equal(t, 32719, batch.SRID)
	assert.Equal(t, records(3), batch.Records)

	target := &recordingStore{}
	logger, _ := test.NewNullLogger()
	replayed, err := Replay(ctx, target, dir, logger)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Files: 1, Records: 3, Replayed: 1}, replayed)
	assert.Equal(t, 3, target.total())

	left, err := ListStaged(dir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReplayKeepsFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteStaged(dir, StagedBatch{Table: table, SRID: 4326, Records: records(2)})
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	_, err = Replay(context.Background(), &recordingStore{failures: 1}, dir, logger)
	require.Error(t, err)

	left, err := ListStaged(dir)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestReplaySkipsSamplesStoredSinceStaging(t *testing.T) {
	dir := t.TempDir()
	staged := records(3)
	_, err := WriteStaged(dir, StagedBatch{Table: table, SRID: 32719, Records: staged})
	require.NoError(t, err)

	// A later run already stored the first two samples.
	target := &recordingStore{batches: [][]model.Record{records(2)}}
	logger, _ := test.NewNullLogger()
	replayed, err := Replay(context.Background(), target, dir, logger)
	require.NoError(t, err)

	assert.Equal(t, ReplayStats{Files: 1, Records: 1, Skipped: 2, Replayed: 1}, replayed)
	require.Len(t, target.batches, 2)
	assert.Equal(t, staged[2:], target.batches[1])

	left, err := ListStaged(dir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReplayNeverAppendsAPeriodTwice(t *testing.T) {
	dir := t.TempDir()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := WriteStaged(dir, StagedBatch{Table: table, StagedAt: first, Records: records(2)})
	require.NoError(t, err)

	// The same samples staged again, plus a later period of one of them.
	later := model.Record{SampleID: identity.Key(0, 0), Year: 2016, ClassName: "Vegas y mallines", Value: 9}
	again := append(records(2), later, later)
	_, err = WriteStaged(dir, StagedBatch{Table: table, StagedAt: first.Add(time.Minute), Records: again})
	require.NoError(t, err)

	target := &recordingStore{}
	logger, _ := test.NewNullLogger()
	replayed, err := Replay(context.Background(), target, dir, logger)
	require.NoError(t, err)

	assert.Equal(t, ReplayStats{Files: 2, Records: 3, Skipped: 3, Replayed: 2}, replayed)
	require.Len(t, target.batches, 2)
	assert.Equal(t, []model.Record{later}, target.batches[1])
}

func TestReplayStopsWhenExistingSamplesCannotBeRead(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteStaged(dir, StagedBatch{Table: table, Records: records(2)})
	require.NoError(t, err)

	target := &recordingStore{queryErr: errors.New("connection refused")}
	logger, _ := test.NewNullLogger()
	_, err = Replay(context.Background(), target, dir, logger)
	require.Error(t, err)
	assert.Zero(t, target.calls)

	left, err := ListStaged(dir)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestListStagedMissingDir(t *testing.T) {
	files, err := ListStaged(t.TempDir() + "/absent")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestNewBatcherValidates(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewBatcher(nil, Options{}, logger)
	assert.Error(t, err)
	_, err = NewBatcher(&recordingStore{}, Options{MaxSize: -1}, logger)
	assert.Error(t, err)
	_, err = NewBatcher(&recordingStore{}, Options{Policy: "requeue"}, logger)
	assert.Error(t, err)
	_, err = NewBatcher(&recordingStore{}, Options{Policy: PolicyStage}, logger)
	assert.Error(t, err)

	b, err := NewBatcher(&recordingStore{}, Options{}, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSize, b.opts.MaxSize)
	assert.Equal(t, PolicyAbort, b.opts.Policy)
}
