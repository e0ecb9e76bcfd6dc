package raster

import (
	"fmt"
	"sync"
)

// MemoryStack is an in-process Dataset backed by row-major band slices.
type MemoryStack struct {
	width  int
	height int
	bands  [][]float64

	nodata    float64
	hasNoData bool
	epsg      int
	gt        GeoTransform

	mu     sync.Mutex
	closed bool
	reads  int
}

type MemoryOption func(*MemoryStack)

func WithNoData(v float64) MemoryOption {
	return func(m *MemoryStack) {
		m.nodata = v
		m.hasNoData = true
	}
}

func WithEPSG(code int) MemoryOption {
	return func(m *MemoryStack) { m.epsg = code }
}

func WithGeoTransform(gt GeoTransform) MemoryOption {
	return func(m *MemoryStack) { m.gt = gt }
}

// NewMemoryStack builds a stack of width×height bands. Every band must hold
// exactly width*height values.
func NewMemoryStack(width, height int, bands [][]float64, opts ...MemoryOption) (*MemoryStack, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	for i, band := range bands {
		if len(band) != width*height {
			return nil, fmt.Errorf("band %d holds %d values, want %d", i+1, len(band), width*height)
		}
	}
	m := &MemoryStack{
		width:  width,
		height: height,
		bands:  bands,
		gt:     IdentityTransform,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *MemoryStack) Width() int                 { return m.width }
func (m *MemoryStack) Height() int                { return m.height }
func (m *MemoryStack) BandCount() int             { return len(m.bands) }
func (m *MemoryStack) NoData() (float64, bool)    { return m.nodata, m.hasNoData }
func (m *MemoryStack) EPSG() int                  { return m.epsg }
func (m *MemoryStack) GeoTransform() GeoTransform { return m.gt }

func (m *MemoryStack) ReadWindow(band int, w Window, dst []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := CheckWindow(m, band, w, len(dst)); err != nil {
		return err
	}
	src := m.bands[band-1]
	for r := 0; r < w.Height; r++ {
		start := (w.RowOff+r)*m.width + w.ColOff
		copy(dst[r*w.Width:(r+1)*w.Width], src[start:start+w.Width])
	}
	m.reads++
	return nil
}

// Reads reports how many window reads were served.
func (m *MemoryStack) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MemoryStack) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryStack) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Opener returns a function yielding fresh handles that share m's bands, so
// each pipeline stage can open and close its own handle.
func (m *MemoryStack) Opener() Opener {
	return func() (Dataset, error) {
		return &MemoryStack{
			width:     m.width,
			height:    m.height,
			bands:     m.bands,
			nodata:    m.nodata,
			hasNoData: m.hasNoData,
			epsg:      m.epsg,
			gt:        m.gt,
		}, nil
	}
}
