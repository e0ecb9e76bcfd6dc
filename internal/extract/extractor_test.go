package extract

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratasample/internal/identity"
	"stratasample/internal/model"
	"stratasample/internal/raster"
)

// failingDataset fails reads of one (band, row, col).
type failingDataset struct {
	raster.Dataset
	band, row, col int
}

func (f failingDataset) ReadWindow(band int, w raster.Window, dst []float64) error {
	if band == f.band && w.RowOff == f.row && w.ColOff == f.col {
		return errors.New("short read")
	}
	return f.Dataset.ReadWindow(band, w, dst)
}

func twoYearStack(t *testing.T) *raster.MemoryStack {
	t.Helper()
	ds, err := raster.NewMemoryStack(2, 2, [][]float64{
		{1, 2, 3, 4},
		{11, 12, math.NaN(), 14},
	}, raster.WithGeoTransform(raster.GeoTransform{1000, 10, 0, 2000, 0, -10}), raster.WithEPSG(32719))
	require.NoError(t, err)
	return ds
}

func point(class model.ClassID, row, col int) model.IdentifiedPoint {
	return model.IdentifiedPoint{
		SamplePoint: model.SamplePoint{Class: class, Coord: model.Coord{Row: row, Col: col}},
		ID:          identity.Key(row, col),
	}
}

func newExtractor(t *testing.T) (*Extractor, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	e, err := NewExtractor(Options{
		Periods: YearPeriods(2015, 2016, 1),
		Classes: DefaultClassTable(),
	}, logger)
	require.NoError(t, err)
	return e, hook
}

func TestExtractEmitsOneRecordPerPeriod(t *testing.T) {
	e, _ := newExtractor(t)
	var records []model.Record
	stats, err := e.Extract(context.Background(), twoYearStack(t), []model.IdentifiedPoint{point(3, 0, 1)}, func(r model.Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, model.Record{
		SampleID:  identity.Key(0, 1),
		Year:      2015,
		ClassName: "Superficie herbácea",
		Value:     2,
		X:         1015,
		Y:         1995,
	}, records[0])
	assert.Equal(t, 2016, records[1].Year)
	assert.Equal(t, int64(12), records[1].Value)
	assert.Equal(t, Stats{Points: 1, Records: 2}, stats)
}

func TestExtractSkipsOnlyTheFailedRecord(t *testing.T) {
	e, hook := newExtractor(t)
	readErrors := 0
	e.OnReadError = func() { readErrors++ }

	ds := failingDataset{Dataset: twoYearStack(t), band: 1, row: 1, col: 1}
	points := []model.IdentifiedPoint{point(1, 0, 0), point(2, 1, 1), point(3, 1, 0)}

	var records []model.Record
	stats, err := e.Extract(context.Background(), ds, points, func(r model.Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, err)

	// (1,1) loses 2015 to the injected failure, (1,0) loses 2016 to NaN.
	assert.Equal(t, Stats{Points: 3, Records: 4, ReadErrors: 2}, stats)
	assert.Equal(t, 2, readErrors)
	require.Len(t, records, 4)
	assert.Equal(t, identity.Key(1, 1), records[2].SampleID)
	assert.Equal(t, 2016, records[2].Year)
	assert.Equal(t, identity.Key(1, 0), records[3].SampleID)
	assert.Equal(t, 2015, records[3].Year)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestExtractStopsOnEmitError(t *testing.T) {
	e, _ := newExtractor(t)
	boom := errors.New("flush failed")
	_, err := e.Extract(context.Background(), twoYearStack(t), []model.IdentifiedPoint{point(1, 0, 0)}, func(model.Record) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestExtractFailsWhenPeriodBandMissing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e, err := NewExtractor(Options{Periods: YearPeriods(2015, 2017, 1)}, logger)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), twoYearStack(t), nil, func(model.Record) error { return nil })
	assert.ErrorIs(t, err, raster.ErrBandIndex)
}

func TestNewExtractorValidates(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewExtractor(Options{}, logger)
	assert.Error(t, err)
	_, err = NewExtractor(Options{Periods: []Period{{Year: 2015, Band: 0}}}, logger)
	assert.Error(t, err)
	_, err = NewExtractor(Options{Periods: []Period{{Year: 2015, Band: 1}, {Year: 2015, Band: 2}}}, logger)
	assert.Error(t, err)
}

func TestClassTableFallback(t *testing.T) {
	table := DefaultClassTable()
	assert.Len(t, table, 13)
	assert.Equal(t, "Vegas y mallines", table.Name(12))
	assert.Equal(t, "Class 42", table.Name(42))
}

func TestYearPeriods(t *testing.T) {
	periods := YearPeriods(2015, 2024, 1)
	require.Len(t, periods, 10)
	assert.Equal(t, Period{Year: 2015, Band: 1}, periods[0])
	assert.Equal(t, Period{Year: 2024, Band: 10}, periods[9])
	assert.Nil(t, YearPeriods(2020, 2019, 1))
}
