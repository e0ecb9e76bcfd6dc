package raster

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds = errors.New("window out of raster bounds")
	ErrBandIndex   = errors.New("band index out of range")
	ErrClosed      = errors.New("raster is closed")
)

// Dataset is a read-only multi-band raster with windowed access.
// Bands are addressed 1-based.
type Dataset interface {
	Width() int
	Height() int
	BandCount() int
	NoData() (float64, bool)
	EPSG() int
	GeoTransform() GeoTransform
	// ReadWindow fills dst in row-major order with the values of band inside w.
	// dst must hold at least w.Width*w.Height values.
	ReadWindow(band int, w Window, dst []float64) error
	Close() error
}

// Window is a rectangular pixel region.
type Window struct {
	ColOff int
	RowOff int
	Width  int
	Height int
}

func (w Window) Size() int {
	return w.Width * w.Height
}

func (w Window) String() string {
	return fmt.Sprintf("col=%d row=%d %dx%d", w.ColOff, w.RowOff, w.Width, w.Height)
}

// CheckWindow validates band and window against ds and the destination length.
func CheckWindow(ds Dataset, band int, w Window, dstLen int) error {
	if band < 1 || band > ds.BandCount() {
		return fmt.Errorf("%w: band %d of %d", ErrBandIndex, band, ds.BandCount())
	}
	if w.Width <= 0 || w.Height <= 0 || w.ColOff < 0 || w.RowOff < 0 ||
		w.ColOff+w.Width > ds.Width() || w.RowOff+w.Height > ds.Height() {
		return fmt.Errorf("%w: %s in %dx%d", ErrOutOfBounds, w, ds.Width(), ds.Height())
	}
	if dstLen < w.Size() {
		return fmt.Errorf("destination holds %d values, window needs %d", dstLen, w.Size())
	}
	return nil
}

// ReadPixel reads a single value.
func ReadPixel(ds Dataset, band, row, col int) (float64, error) {
	var buf [1]float64
	if err := ds.ReadWindow(band, Window{ColOff: col, RowOff: row, Width: 1, Height: 1}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Info summarizes raster metadata.
type Info struct {
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Bands        int          `json:"bands"`
	NoData       *float64     `json:"nodata,omitempty"`
	EPSG         int          `json:"epsg"`
	GeoTransform GeoTransform `json:"geotransform"`
}

func Describe(ds Dataset) Info {
	info := Info{
		Width:        ds.Width(),
		Height:       ds.Height(),
		Bands:        ds.BandCount(),
		EPSG:         ds.EPSG(),
		GeoTransform: ds.GeoTransform(),
	}
	if nodata, ok := ds.NoData(); ok {
		info.NoData = &nodata
	}
	return info
}
