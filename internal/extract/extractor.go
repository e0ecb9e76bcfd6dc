// Package extract reads the per-period values of sampled pixels and turns
// them into records.
package extract

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"stratasample/internal/model"
	"stratasample/internal/raster"
)

type Options struct {
	Periods []Period
	Classes ClassTable
}

// Stats counts extraction outcomes.
type Stats struct {
	Points     int
	Records    int
	ReadErrors int
}

type Extractor struct {
	opts   Options
	logger logrus.FieldLogger

	// OnReadError, when set, is called for every skipped (point, period).
	OnReadError func()
}

func NewExtractor(opts Options, logger logrus.FieldLogger) (*Extractor, error) {
	if len(opts.Periods) == 0 {
		return nil, fmt.Errorf("at least one period is required")
	}
	seen := make(map[int]struct{}, len(opts.Periods))
	for _, p := range opts.Periods {
		if p.Band < 1 {
			return nil, fmt.Errorf("period %d: band must be >= 1, got %d", p.Year, p.Band)
		}
		if _, dup := seen[p.Year]; dup {
			return nil, fmt.Errorf("period %d configured twice", p.Year)
		}
		seen[p.Year] = struct{}{}
	}
	if opts.Classes == nil {
		opts.Classes = ClassTable{}
	}
	return &Extractor{opts: opts, logger: logger}, nil
}

// CheckBands fails when a configured period has no band in ds.
func (e *Extractor) CheckBands(ds raster.Dataset) error {
	for _, p := range e.opts.Periods {
		if p.Band > ds.BandCount() {
			return fmt.Errorf("%w: period %d needs band %d, raster has %d bands",
				raster.ErrBandIndex, p.Year, p.Band, ds.BandCount())
		}
	}
	return nil
}

// Extract emits one record per (point, period). A failed or non-finite read
// skips that single record; an emit error stops extraction and is returned.
func (e *Extractor) Extract(ctx context.Context, ds raster.Dataset, points []model.IdentifiedPoint, emit func(model.Record) error) (Stats, error) {
	if err := e.CheckBands(ds); err != nil {
		return Stats{}, err
	}

	gt := ds.GeoTransform()
	var stats Stats
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Points++

		x, y := gt.PixelCenter(p.Coord.Row, p.Coord.Col)
		className := e.opts.Classes.Name(p.Class)
		for _, period := range e.opts.Periods {
			v, err := raster.ReadPixel(ds, period.Band, p.Coord.Row, p.Coord.Col)
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				err = fmt.Errorf("non-finite value %v", v)
			}
			if err != nil {
				stats.ReadErrors++
				if e.OnReadError != nil {
					e.OnReadError()
				}
				e.logger.WithField("action", "extract_read_failed").
					WithField("row", p.Coord.Row).
					WithField("col", p.Coord.Col).
					WithField("band", period.Band).
					WithField("year", period.Year).
					WithError(err).
					Warn("skipping record")
				continue
			}

			rec := model.Record{
				SampleID:  p.ID,
				Year:      period.Year,
				ClassName: className,
				Value:     int64(v),
				X:         x,
				Y:         y,
			}
			if err := emit(rec); err != nil {
				return stats, err
			}
			stats.Records++
		}
	}
	return stats, nil
}
