// Package pipeline runs the sampling stages in order: scan, sample, assign
// identities, filter existing ones, extract per-period records and flush them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"stratasample/internal/extract"
	"stratasample/internal/identity"
	"stratasample/internal/metrics"
	"stratasample/internal/model"
	"stratasample/internal/raster"
	"stratasample/internal/sampling"
	"stratasample/internal/scan"
	"stratasample/internal/sink"
	"stratasample/internal/storage"
)

type Config struct {
	Open  raster.Opener
	Store storage.Store
	Table model.TableName
	// SRID of stored geometries; 0 takes the raster EPSG code.
	SRID int

	Scan     scan.Options
	Fraction float64
	Seed     *uint64
	Extract  extract.Options
	Sink     sink.Options

	// Metrics is optional.
	Metrics *metrics.Metrics
}

type Pipeline struct {
	cfg       Config
	logger    logrus.FieldLogger
	scanner   *scan.Scanner
	sampler   *sampling.Sampler
	extractor *extract.Extractor
}

func New(cfg Config, logger logrus.FieldLogger) (*Pipeline, error) {
	if cfg.Open == nil {
		return nil, errors.New("pipeline needs a raster opener")
	}
	if cfg.Store == nil {
		return nil, errors.New("pipeline needs a store")
	}
	if cfg.Table.Name == "" {
		return nil, errors.New("pipeline needs a target table")
	}

	scanner, err := scan.NewScanner(cfg.Scan, logger)
	if err != nil {
		return nil, err
	}
	sampler, err := sampling.NewSampler(cfg.Fraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	extractor, err := extract.NewExtractor(cfg.Extract, logger)
	if err != nil {
		return nil, err
	}
	if m := cfg.Metrics; m != nil {
		scanner.OnTile = m.ObserveTile
		extractor.OnReadError = m.ReadFailures.Inc
	}

	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		scanner:   scanner,
		sampler:   sampler,
		extractor: extractor,
	}, nil
}

// Plan runs scan, sample and dedup without reading periods or writing.
func (p *Pipeline) Plan(ctx context.Context) (Summary, error) {
	started := time.Now()
	summary := Summary{DryRun: true}
	if _, err := p.selectPoints(ctx, &summary); err != nil {
		return summary, err
	}
	summary.Duration = time.Since(started)
	p.logDone(summary)
	return summary, nil
}

// Run executes every stage and returns the final counts. Records already
// flushed stay in the store when a later stage fails.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	var summary Summary

	points, err := p.selectPoints(ctx, &summary)
	if err != nil {
		return summary, err
	}

	srid := p.cfg.SRID
	if srid == 0 {
		srid = summary.Raster.EPSG
	}
	summary.SRID = srid

	sinkOpts := p.cfg.Sink
	sinkOpts.Table = p.cfg.Table
	sinkOpts.SRID = srid
	batcher, err := sink.NewBatcher(p.cfg.Store, sinkOpts, p.logger)
	if err != nil {
		return summary, err
	}
	if m := p.cfg.Metrics; m != nil {
		batcher.OnFlush = func(outcome string, n int) {
			m.ObserveFlush(outcome, n)
			if outcome == sink.OutcomeInserted {
				m.Inserted.Add(float64(n))
			}
		}
	}

	p.logger.WithField("action", "extract_start").
		WithField("points", len(points)).
		WithField("periods", len(p.cfg.Extract.Periods)).
		Info("extracting period values")

	err = p.withRaster(func(ds raster.Dataset) error {
		stats, err := p.extractor.Extract(ctx, ds, points, func(rec model.Record) error {
			return batcher.Add(ctx, rec)
		})
		summary.Extract = stats
		if m := p.cfg.Metrics; m != nil {
			m.Extracted.Add(float64(stats.Records))
		}
		if err != nil {
			return err
		}
		return batcher.Flush(ctx)
	})
	summary.Sink = batcher.Stats()
	summary.Duration = time.Since(started)
	if err != nil {
		return summary, err
	}

	p.logDone(summary)
	return summary, nil
}

// selectPoints covers the stages up to the dedup filter.
func (p *Pipeline) selectPoints(ctx context.Context, summary *Summary) ([]model.IdentifiedPoint, error) {
	var pool *model.CandidatePool
	err := p.withRaster(func(ds raster.Dataset) error {
		summary.Raster = raster.Describe(ds)
		// Period bands are checked before anything is written.
		if err := p.extractor.CheckBands(ds); err != nil {
			return err
		}

		p.logger.WithField("action", "scan_start").
			WithField("width", summary.Raster.Width).
			WithField("height", summary.Raster.Height).
			WithField("bands", summary.Raster.Bands).
			WithField("epsg", summary.Raster.EPSG).
			Info("scanning raster for candidates")

		var (
			stats scan.Stats
			err   error
		)
		pool, stats, err = p.scanner.Scan(ctx, ds)
		summary.Scan = stats
		return err
	})
	if err != nil {
		return nil, err
	}
	summary.Candidates = pool.Total()
	p.logger.WithField("action", "scan_done").
		WithField("tiles", summary.Scan.Tiles).
		WithField("candidates", summary.Candidates).
		WithField("classes", len(pool.Classes())).
		Infof("found %s candidates", humanize.Comma(int64(summary.Candidates)))

	points, perClass := p.sampler.Sample(pool)
	summary.Sampled = len(points)
	if m := p.cfg.Metrics; m != nil {
		m.Sampled.Add(float64(len(points)))
	}
	p.logger.WithField("action", "sample_done").
		WithField("sampled", summary.Sampled).
		Infof("sampled %s points", humanize.Comma(int64(summary.Sampled)))

	existing, status := identity.LoadExisting(ctx, p.cfg.Store, p.cfg.Table, p.logger)
	summary.Existing = len(existing)
	summary.DedupStatus = status
	p.logger.WithField("action", "existing_identities").
		WithField("status", string(status)).
		WithField("existing", summary.Existing).
		Info("loaded existing identities")

	fresh := identity.Filter(points, existing)
	summary.New = len(fresh)
	summary.SkippedExisting = summary.Sampled - summary.New
	if m := p.cfg.Metrics; m != nil {
		m.SkippedExisting.Add(float64(summary.SkippedExisting))
	}
	p.logger.WithField("action", "dedup_done").
		WithField("new", summary.New).
		WithField("skipped", summary.SkippedExisting).
		Infof("%s new points after dedup", humanize.Comma(int64(summary.New)))

	summary.Classes = classSummaries(perClass, fresh, p.cfg.Extract.Classes)
	return fresh, nil
}

// withRaster opens a handle for one stage and always closes it.
func (p *Pipeline) withRaster(fn func(raster.Dataset) error) (err error) {
	ds, err := p.cfg.Open()
	if err != nil {
		return fmt.Errorf("open raster: %w", err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("close raster: %w", cerr))
		}
	}()
	return fn(ds)
}

func (p *Pipeline) logDone(s Summary) {
	p.logger.WithField("action", "run_done").
		WithField("dry_run", s.DryRun).
		WithField("sampled", s.Sampled).
		WithField("new", s.New).
		WithField("records", s.Extract.Records).
		WithField("inserted", s.Sink.Inserted).
		WithField("duration", s.Duration.String()).
		Infof("inserted %s records", humanize.Comma(s.Sink.Inserted))
}
