package raster

import "fmt"

// Opener opens a new read handle on a raster.
type Opener func() (Dataset, error)

// Open opens the raster at path with the named backend.
func Open(kind, path string) (Dataset, error) {
	switch kind {
	case "", "gdal":
		if path == "" {
			return nil, fmt.Errorf("raster path is required")
		}
		return openGDAL(path)
	default:
		return nil, fmt.Errorf("unsupported raster backend: %s", kind)
	}
}

// FileOpener binds Open to a backend and path.
func FileOpener(kind, path string) Opener {
	return func() (Dataset, error) {
		return Open(kind, path)
	}
}
