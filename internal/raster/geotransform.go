package raster

// GeoTransform is the affine pixel-to-CRS transform in GDAL order:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// IdentityTransform maps pixel corners to themselves with north-up rows.
var IdentityTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Apply maps fractional pixel coordinates to the CRS.
func (gt GeoTransform) Apply(row, col float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// PixelCenter returns the CRS coordinates of the center of pixel (row, col).
func (gt GeoTransform) PixelCenter(row, col int) (x, y float64) {
	return gt.Apply(float64(row)+0.5, float64(col)+0.5)
}
