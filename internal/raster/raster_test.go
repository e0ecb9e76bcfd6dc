package raster

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStackReadWindow(t *testing.T) {
	band := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	m, err := NewMemoryStack(3, 2, [][]float64{band})
	require.NoError(t, err)

	dst := make([]float64, 4)
	require.NoError(t, m.ReadWindow(1, Window{ColOff: 1, RowOff: 0, Width: 2, Height: 2}, dst))
	assert.Equal(t, []float64{2, 3, 5, 6}, dst)

	v, err := ReadPixel(m, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
	assert.Equal(t, 2, m.Reads())
}

func TestMemoryStackRejectsBadReads(t *testing.T) {
	m, err := NewMemoryStack(2, 2, [][]float64{{1, 2, 3, 4}})
	require.NoError(t, err)

	_, err = ReadPixel(m, 2, 0, 0)
	assert.True(t, errors.Is(err, ErrBandIndex))

	_, err = ReadPixel(m, 1, 2, 0)
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	err = m.ReadWindow(1, Window{Width: 2, Height: 2}, make([]float64, 3))
	assert.Error(t, err)

	require.NoError(t, m.Close())
	_, err = ReadPixel(m, 1, 0, 0)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestNewMemoryStackValidatesBandLength(t *testing.T) {
	_, err := NewMemoryStack(2, 2, [][]float64{{1, 2, 3}})
	assert.Error(t, err)
	_, err = NewMemoryStack(0, 2, nil)
	assert.Error(t, err)
}

func TestMemoryOpenerReturnsIndependentHandles(t *testing.T) {
	m, err := NewMemoryStack(1, 1, [][]float64{{7}}, WithNoData(-9999), WithEPSG(32719))
	require.NoError(t, err)

	open := m.Opener()
	first, err := open()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := open()
	require.NoError(t, err)
	v, err := ReadPixel(second, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	nodata, ok := second.NoData()
	assert.True(t, ok)
	assert.Equal(t, -9999.0, nodata)
	assert.Equal(t, 32719, second.EPSG())
}

func TestGeoTransformPixelCenter(t *testing.T) {
	gt := GeoTransform{300000, 30, 0, 5000000, 0, -30}
	x, y := gt.PixelCenter(0, 0)
	assert.Equal(t, 300015.0, x)
	assert.Equal(t, 4999985.0, y)

	x, y = gt.PixelCenter(2, 1)
	assert.Equal(t, 300045.0, x)
	assert.Equal(t, 4999925.0, y)
}

func TestDescribe(t *testing.T) {
	m, err := NewMemoryStack(4, 3, [][]float64{make([]float64, 12), make([]float64, 12)}, WithEPSG(4326))
	require.NoError(t, err)

	info := Describe(m)
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, 3, info.Height)
	assert.Equal(t, 2, info.Bands)
	assert.Nil(t, info.NoData)
	assert.Equal(t, 4326, info.EPSG)
	assert.Equal(t, IdentityTransform, info.GeoTransform)
}

func TestOpenUnsupportedBackend(t *testing.T) {
	_, err := Open("netcdf", "x.nc")
	assert.Error(t, err)
	_, err = Open("gdal", "")
	assert.Error(t, err)
}
