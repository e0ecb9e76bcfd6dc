package stratasample

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"stratasample/internal/config"
	"stratasample/internal/metrics"
	"stratasample/internal/model"
	"stratasample/internal/pipeline"
	"stratasample/internal/raster"
	"stratasample/internal/sink"
	"stratasample/internal/stats"
	"stratasample/internal/storage"
)

type Options struct {
	Config config.Config
	Logger logrus.FieldLogger
	// Metrics is optional.
	Metrics *metrics.Metrics

	// Opener replaces the raster named by Config.Raster.
	Opener raster.Opener
	// Store replaces the store named by Config.Store; the client does not
	// close it.
	Store storage.Store
}

type Client struct {
	cfg     config.Config
	table   model.TableName
	store   storage.Store
	owned   bool
	opener  raster.Opener
	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	initialized bool
}

type RunRequest struct {
	// RunID names the artifacts directory; generated when empty.
	RunID string
}

type RunSummary struct {
	RunID        string `json:"run_id"`
	ArtifactsDir string `json:"artifacts_dir,omitempty"`
	pipeline.Summary
}

type RunsRequest struct {
	Limit int
}

type ReplayRequest struct {
	// Dir defaults to the configured staging directory.
	Dir string
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	table, err := cfg.TableName()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, owned := opts.Store, false
	if store == nil {
		store, err = storage.NewStore(cfg.Store.Kind, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		owned = true
	}

	opener := opts.Opener
	if opener == nil {
		opener = raster.FileOpener(cfg.Raster.Backend, cfg.Raster.Path)
	}

	return &Client{
		cfg:     cfg,
		table:   table,
		store:   store,
		owned:   owned,
		opener:  opener,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Table is the resolved target table.
func (c *Client) Table() model.TableName {
	return c.table
}

func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return storage.CloseIfSupported(c.store)
}

// Init connects the store and creates the target table if it is missing.
func (c *Client) Init(ctx context.Context) error {
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	srid := c.cfg.Store.SRID
	if srid == 0 {
		info, err := c.Info(ctx)
		if err != nil {
			return fmt.Errorf("resolve srid from raster: %w", err)
		}
		srid = info.EPSG
	}
	return c.store.EnsureTable(ctx, c.table, srid)
}

// Info reads the raster metadata.
func (c *Client) Info(_ context.Context) (info raster.Info, err error) {
	ds, err := c.opener()
	if err != nil {
		return raster.Info{}, err
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()
	return raster.Describe(ds), nil
}

// Scan is a dry run: it reports what a run would sample without writing.
func (c *Client) Scan(ctx context.Context, req RunRequest) (RunSummary, error) {
	return c.execute(ctx, req, true)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	return c.execute(ctx, req, false)
}

func (c *Client) execute(ctx context.Context, req RunRequest, dryRun bool) (RunSummary, error) {
	if err := c.cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}

	p, err := pipeline.New(pipeline.Config{
		Open:     c.opener,
		Store:    c.store,
		Table:    c.table,
		SRID:     c.cfg.Store.SRID,
		Scan:     c.cfg.ScanOptions(),
		Fraction: c.cfg.Sampling.Fraction,
		Seed:     c.cfg.Sampling.Seed,
		Extract:  c.cfg.ExtractOptions(),
		Sink:     c.cfg.SinkOptions(c.table, c.cfg.Store.SRID),
		Metrics:  c.metrics,
	}, c.logger)
	if err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		mode := "run"
		if dryRun {
			mode = "scan"
		}
		runID = fmt.Sprintf("%s-%s-%s", mode, now.Format("20060102T150405Z"), uuid.NewString()[:8])
	}

	var summary pipeline.Summary
	if dryRun {
		summary, err = p.Plan(ctx)
	} else {
		summary, err = p.Run(ctx)
	}
	out := RunSummary{RunID: runID, Summary: summary}
	if err != nil {
		return out, err
	}

	if c.cfg.ArtifactsDir == "" {
		return out, nil
	}
	runSummary := c.runSummary(runID, now, summary)
	runDir, err := stats.WriteRunArtifacts(c.cfg.ArtifactsDir, stats.RunArtifacts{
		Config:      c.cfg.Redacted(),
		Summary:     runSummary,
		ClassCounts: classCounts(summary.Classes),
	})
	if err != nil {
		return out, err
	}
	if err := stats.AppendRunIndex(c.cfg.ArtifactsDir, stats.IndexEntry(runSummary)); err != nil {
		return out, err
	}
	out.ArtifactsDir = filepath.Clean(runDir)
	return out, nil
}

func (c *Client) runSummary(runID string, now time.Time, s pipeline.Summary) stats.RunSummary {
	return stats.RunSummary{
		RunID:           runID,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
		DryRun:          s.DryRun,
		Raster:          c.cfg.Raster.Path,
		Table:           c.table.String(),
		SRID:            s.SRID,
		Tiles:           s.Scan.Tiles,
		Candidates:      s.Candidates,
		Sampled:         s.Sampled,
		Existing:        s.Existing,
		DedupStatus:     string(s.DedupStatus),
		SkippedExisting: s.SkippedExisting,
		New:             s.New,
		Records:         s.Extract.Records,
		ReadErrors:      s.Extract.ReadErrors,
		Inserted:        s.Sink.Inserted,
		Dropped:         s.Sink.Dropped,
		Staged:          s.Sink.Staged,
		Flushes:         s.Sink.Flushes,
		StagedFiles:     s.Sink.StagedFiles,
		DurationMS:      s.Duration.Milliseconds(),
	}
}

func classCounts(classes []pipeline.ClassSummary) []stats.ClassCount {
	out := make([]stats.ClassCount, 0, len(classes))
	for _, c := range classes {
		out = append(out, stats.ClassCount{
			Class:      int(c.Class),
			Name:       c.Name,
			Candidates: c.Candidates,
			Sampled:    c.Sampled,
			New:        c.New,
		})
	}
	return out
}

// Stats returns per-(year, class) record counts of the target table.
func (c *Client) Stats(ctx context.Context) ([]model.PeriodClassCount, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	exists, err := c.store.TableExists(ctx, c.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("table %s does not exist", c.table)
	}
	return c.store.CountByPeriodClass(ctx, c.table)
}

// Replay appends batches staged by failed flushes.
func (c *Client) Replay(ctx context.Context, req ReplayRequest) (sink.ReplayStats, error) {
	dir := req.Dir
	if dir == "" {
		dir = c.cfg.Sink.StageDir
	}
	if dir == "" {
		return sink.ReplayStats{}, errors.New("replay requires a staging directory")
	}
	if err := c.ensureStore(ctx); err != nil {
		return sink.ReplayStats{}, err
	}
	return sink.Replay(ctx, c.store, dir, c.logger)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.cfg.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init %s store: %w", c.cfg.Store.Kind, err)
	}
	c.initialized = true
	return nil
}
