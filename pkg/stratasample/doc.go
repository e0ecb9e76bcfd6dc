// Package stratasample draws stratified random samples of pixels from a
// multi-band raster and appends their per-period values to a tabular store.
// Identities are derived from pixel coordinates, so reruns never persist the
// same pixel twice.
package stratasample
