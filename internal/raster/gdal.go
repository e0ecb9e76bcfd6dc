//go:build gdal

package raster

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/airbusgeo/godal"
)

var registerDrivers sync.Once

// GDALDataset reads any raster format GDAL can open.
type GDALDataset struct {
	path string
	ds   *godal.Dataset

	bands     []godal.Band
	width     int
	height    int
	nodata    float64
	hasNoData bool
	epsg      int
	gt        GeoTransform

	mu     sync.Mutex
	closed bool
}

func openGDAL(path string) (Dataset, error) {
	registerDrivers.Do(godal.RegisterAll)

	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", path, err)
	}

	structure := ds.Structure()
	g := &GDALDataset{
		path:   path,
		ds:     ds,
		bands:  ds.Bands(),
		width:  structure.SizeX,
		height: structure.SizeY,
		gt:     IdentityTransform,
	}
	if len(g.bands) > 0 {
		g.nodata, g.hasNoData = g.bands[0].NoData()
	}
	if gt, err := ds.GeoTransform(); err == nil {
		g.gt = GeoTransform(gt)
	}
	if sr := ds.SpatialRef(); sr != nil {
		if code, err := strconv.Atoi(sr.AuthorityCode("")); err == nil {
			g.epsg = code
		}
		sr.Close()
	}
	return g, nil
}

func (g *GDALDataset) Width() int                 { return g.width }
func (g *GDALDataset) Height() int                { return g.height }
func (g *GDALDataset) BandCount() int             { return len(g.bands) }
func (g *GDALDataset) NoData() (float64, bool)    { return g.nodata, g.hasNoData }
func (g *GDALDataset) EPSG() int                  { return g.epsg }
func (g *GDALDataset) GeoTransform() GeoTransform { return g.gt }

func (g *GDALDataset) ReadWindow(band int, w Window, dst []float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if err := CheckWindow(g, band, w, len(dst)); err != nil {
		return err
	}
	if err := g.bands[band-1].Read(w.ColOff, w.RowOff, dst[:w.Size()], w.Width, w.Height); err != nil {
		return fmt.Errorf("read band %d %s of %s: %w", band, w, g.path, err)
	}
	return nil
}

func (g *GDALDataset) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	return g.ds.Close()
}
