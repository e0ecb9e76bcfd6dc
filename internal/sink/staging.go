package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"stratasample/internal/identity"
	"stratasample/internal/model"
)

const stagedExt = ".msgpack"

var stageSeq atomic.Uint64

// StagedBatch is a failed flush persisted for a later replay.
type StagedBatch struct {
	Table    model.TableName `msgpack:"table"`
	SRID     int             `msgpack:"srid"`
	StagedAt time.Time       `msgpack:"staged_at"`
	Records  []model.Record  `msgpack:"records"`
}

// WriteStaged encodes batch into a new file under dir and returns its path.
func WriteStaged(dir string, batch StagedBatch) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if batch.StagedAt.IsZero() {
		batch.StagedAt = time.Now().UTC()
	}
	name := fmt.Sprintf("batch-%d-%04d%s", batch.StagedAt.UnixNano(), stageSeq.Add(1), stagedExt)
	path := filepath.Join(dir, name)

	data, err := msgpack.Marshal(&batch)
	if err != nil {
		return "", fmt.Errorf("encode staged batch: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func ReadStaged(path string) (StagedBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StagedBatch{}, err
	}
	var batch StagedBatch
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return StagedBatch{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return batch, nil
}

// ListStaged returns staged batch files in dir, oldest first. A missing
// directory holds no batches.
func ListStaged(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stagedExt) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

type ReplayStats struct {
	Files    int   `json:"files"`
	Records  int64 `json:"records"`
	Skipped  int64 `json:"skipped"`
	Replayed int   `json:"replayed"`
}

// ReplayStore is a store that can be both checked for existing samples and
// appended to.
type ReplayStore interface {
	Appender
	identity.Source
}

type periodKey struct {
	id   uuid.UUID
	year int
}

// replayTarget tracks what a table already holds during one replay.
type replayTarget struct {
	existing model.IdentitySet
	replayed map[periodKey]struct{}
}

// Replay appends every staged batch in dir and removes each file once its
// batch is committed. Records of samples already in the target table when
// the replay starts, and records an earlier file of the same replay already
// appended, are skipped. It stops at the first failing batch.
func Replay(ctx context.Context, store ReplayStore, dir string, logger logrus.FieldLogger) (ReplayStats, error) {
	files, err := ListStaged(dir)
	if err != nil {
		return ReplayStats{}, err
	}
	stats := ReplayStats{Files: len(files)}
	targets := make(map[model.TableName]*replayTarget)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := ReadStaged(path)
		if err != nil {
			return stats, err
		}

		target, ok := targets[batch.Table]
		if !ok {
			existing, status := identity.LoadExisting(ctx, store, batch.Table, logger)
			if status == identity.StatusFallback {
				return stats, fmt.Errorf("replay %s: existing samples of %s could not be read", filepath.Base(path), batch.Table)
			}
			target = &replayTarget{existing: existing, replayed: make(map[periodKey]struct{})}
			targets[batch.Table] = target
		}

		fresh, keys := target.pending(batch.Records)
		if len(fresh) > 0 {
			if err := store.Append(ctx, batch.Table, batch.SRID, fresh); err != nil {
				return stats, fmt.Errorf("replay %s: %w", filepath.Base(path), err)
			}
		}
		for _, k := range keys {
			target.replayed[k] = struct{}{}
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("remove replayed batch: %w", err)
		}

		skipped := len(batch.Records) - len(fresh)
		stats.Replayed++
		stats.Records += int64(len(fresh))
		stats.Skipped += int64(skipped)
		logger.WithField("action", "batch_replayed").
			WithField("path", path).
			WithField("table", batch.Table.String()).
			WithField("records", len(fresh)).
			WithField("skipped", skipped).
			Info("staged batch appended")
	}
	return stats, nil
}

// pending drops records whose sample is already stored or whose
// (sample, year) pair was replayed before, including repeats within records.
func (t *replayTarget) pending(records []model.Record) ([]model.Record, []periodKey) {
	fresh := make([]model.Record, 0, len(records))
	keys := make([]periodKey, 0, len(records))
	inBatch := make(map[periodKey]struct{}, len(records))
	for _, rec := range records {
		if t.existing.Contains(rec.SampleID) {
			continue
		}
		k := periodKey{id: rec.SampleID, year: rec.Year}
		if _, done := t.replayed[k]; done {
			continue
		}
		if _, dup := inBatch[k]; dup {
			continue
		}
		inBatch[k] = struct{}{}
		fresh = append(fresh, rec)
		keys = append(keys, k)
	}
	return fresh, keys
}
