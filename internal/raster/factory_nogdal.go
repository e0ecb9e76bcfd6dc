//go:build !gdal

package raster

import "fmt"

func openGDAL(_ string) (Dataset, error) {
	return nil, fmt.Errorf("gdal raster backend unavailable in this build; rebuild with -tags gdal")
}
