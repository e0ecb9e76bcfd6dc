// Package scan streams a raster tile by tile and collects valid pixel
// coordinates per reference class.
package scan

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"stratasample/internal/model"
	"stratasample/internal/raster"
)

const DefaultTileSize = 1024

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Predicate decides whether a single band value is usable.
type Predicate struct {
	NoData    float64
	HasNoData bool
	Range     Range
}

func (p Predicate) Valid(v float64) bool {
	if p.HasNoData && v == p.NoData {
		return false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return p.Range.Contains(v)
}

type Options struct {
	TileSize      int
	ValidityBands []int
	ReferenceBand int
	ValidRange    Range
	Classes       map[model.ClassID]struct{}
}

// TileStats is reported once per scanned tile.
type TileStats struct {
	Window     raster.Window
	Valid      int
	Candidates int
	Duration   time.Duration
}

// Stats summarizes a whole scan.
type Stats struct {
	Tiles      int
	Valid      int
	Candidates int
	// OutOfClass counts pixels that passed validity but whose reference value
	// is not a configured class.
	OutOfClass int
}

type Scanner struct {
	opts   Options
	logger logrus.FieldLogger

	// OnTile, when set, is called after every tile.
	OnTile func(TileStats)
}

func NewScanner(opts Options, logger logrus.FieldLogger) (*Scanner, error) {
	if opts.TileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", opts.TileSize)
	}
	if len(opts.ValidityBands) == 0 {
		return nil, fmt.Errorf("at least one validity band is required")
	}
	if opts.ReferenceBand < 1 {
		return nil, fmt.Errorf("reference band must be >= 1, got %d", opts.ReferenceBand)
	}
	if len(opts.Classes) == 0 {
		return nil, fmt.Errorf("at least one valid class is required")
	}
	return &Scanner{opts: opts, logger: logger}, nil
}

// Tiles splits a width×height grid into row-major, non-overlapping windows of
// at most size×size, clipped at the right and bottom edges.
func Tiles(width, height, size int) []raster.Window {
	if width <= 0 || height <= 0 || size <= 0 {
		return nil
	}
	out := make([]raster.Window, 0, ((height+size-1)/size)*((width+size-1)/size))
	for rowOff := 0; rowOff < height; rowOff += size {
		for colOff := 0; colOff < width; colOff += size {
			out = append(out, raster.Window{
				ColOff: colOff,
				RowOff: rowOff,
				Width:  min(size, width-colOff),
				Height: min(size, height-rowOff),
			})
		}
	}
	return out
}

// Scan reads every tile of ds and returns the complete candidate pool.
// Peak memory is one tile per validity band plus the pool itself.
func (s *Scanner) Scan(ctx context.Context, ds raster.Dataset) (*model.CandidatePool, Stats, error) {
	if err := s.checkBands(ds); err != nil {
		return nil, Stats{}, err
	}

	nodata, hasNoData := ds.NoData()
	pred := Predicate{NoData: nodata, HasNoData: hasNoData, Range: s.opts.ValidRange}

	// Tiles are clipped to the raster, so buffers never exceed it.
	tileCap := min(s.opts.TileSize, ds.Height()) * min(s.opts.TileSize, ds.Width())
	bufs := make([][]float64, len(s.opts.ValidityBands))
	refIdx := -1
	for i, band := range s.opts.ValidityBands {
		bufs[i] = make([]float64, tileCap)
		if band == s.opts.ReferenceBand {
			refIdx = i
		}
	}
	var refBuf []float64
	if refIdx < 0 {
		refBuf = make([]float64, tileCap)
	}
	mask := make([]bool, tileCap)

	pool := model.NewCandidatePool()
	var stats Stats
	lastRow := -1
	for _, w := range Tiles(ds.Width(), ds.Height(), s.opts.TileSize) {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if w.RowOff != lastRow {
			lastRow = w.RowOff
			s.logger.WithField("action", "scan_tile_row").
				WithField("row_off", w.RowOff).
				WithField("candidates", pool.Total()).
				Debug("scanning tile row")
		}

		started := time.Now()
		n := w.Size()
		for i := range mask[:n] {
			mask[i] = true
		}
		for i, band := range s.opts.ValidityBands {
			buf := bufs[i][:n]
			if err := ds.ReadWindow(band, w, buf); err != nil {
				return nil, stats, fmt.Errorf("read band %d tile %s: %w", band, w, err)
			}
			for p, v := range buf {
				if mask[p] && !pred.Valid(v) {
					mask[p] = false
				}
			}
		}

		ref := refBuf
		if refIdx >= 0 {
			ref = bufs[refIdx]
		} else if err := ds.ReadWindow(s.opts.ReferenceBand, w, ref[:n]); err != nil {
			return nil, stats, fmt.Errorf("read reference band %d tile %s: %w", s.opts.ReferenceBand, w, err)
		}

		tile := TileStats{Window: w}
		for p := 0; p < n; p++ {
			if !mask[p] {
				continue
			}
			tile.Valid++
			class, ok := s.classOf(ref[p])
			if !ok {
				stats.OutOfClass++
				continue
			}
			pool.Add(class, model.Coord{Row: w.RowOff + p/w.Width, Col: w.ColOff + p%w.Width})
			tile.Candidates++
		}
		tile.Duration = time.Since(started)

		stats.Tiles++
		stats.Valid += tile.Valid
		stats.Candidates += tile.Candidates
		if s.OnTile != nil {
			s.OnTile(tile)
		}
	}
	return pool, stats, nil
}

func (s *Scanner) classOf(v float64) (model.ClassID, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	class := model.ClassID(math.Trunc(v))
	_, ok := s.opts.Classes[class]
	return class, ok
}

func (s *Scanner) checkBands(ds raster.Dataset) error {
	count := ds.BandCount()
	for _, band := range s.opts.ValidityBands {
		if band < 1 || band > count {
			return fmt.Errorf("%w: validity band %d, raster has %d bands", raster.ErrBandIndex, band, count)
		}
	}
	if s.opts.ReferenceBand > count {
		return fmt.Errorf("%w: reference band %d, raster has %d bands", raster.ErrBandIndex, s.opts.ReferenceBand, count)
	}
	return nil
}

// ClassSet builds a class set from an inclusive integer range.
func ClassSet(minClass, maxClass int) map[model.ClassID]struct{} {
	out := make(map[model.ClassID]struct{}, max(0, maxClass-minClass+1))
	for c := minClass; c <= maxClass; c++ {
		out[model.ClassID(c)] = struct{}{}
	}
	return out
}
