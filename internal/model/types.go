package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// ClassID is a reference-band class value.
type ClassID int

// Coord is an absolute pixel position in the raster grid.
type Coord struct {
	Row int `json:"row" msgpack:"row"`
	Col int `json:"col" msgpack:"col"`
}

// SamplePoint is one coordinate drawn from a class pool.
type SamplePoint struct {
	Class ClassID
	Coord Coord
}

// IdentifiedPoint is a sample point paired with its stable identity.
type IdentifiedPoint struct {
	SamplePoint
	ID uuid.UUID
}

// Record is the persisted unit: one sampled pixel observed in one period.
type Record struct {
	SampleID  uuid.UUID `json:"sample_id" msgpack:"sample_id"`
	Year      int       `json:"year" msgpack:"year"`
	ClassName string    `json:"class_name" msgpack:"class_name"`
	Value     int64     `json:"value" msgpack:"value"`
	X         float64   `json:"x" msgpack:"x"`
	Y         float64   `json:"y" msgpack:"y"`
}

// Point returns the record location as a geometry in the raster CRS.
func (r Record) Point() orb.Point {
	return orb.Point{r.X, r.Y}
}

// IdentitySet holds identities already present in the target table.
type IdentitySet map[uuid.UUID]struct{}

func (s IdentitySet) Contains(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

func (s IdentitySet) Add(id uuid.UUID) {
	s[id] = struct{}{}
}

// TableName is a schema-qualified table reference.
type TableName struct {
	Schema string `json:"schema" yaml:"schema"`
	Name   string `json:"name" yaml:"name"`
}

// ParseTableName accepts "table" or "schema.table".
func ParseTableName(s string) (TableName, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TableName{}, fmt.Errorf("empty table name")
	}
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		return TableName{Name: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return TableName{}, fmt.Errorf("invalid table name %q", s)
		}
		return TableName{Schema: parts[0], Name: parts[1]}, nil
	default:
		return TableName{}, fmt.Errorf("invalid table name %q", s)
	}
}

func (t TableName) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// PeriodClassCount is one row of the per-period, per-class record histogram.
type PeriodClassCount struct {
	Year      int    `json:"year"`
	ClassName string `json:"class_name"`
	Records   int64  `json:"records"`
}
