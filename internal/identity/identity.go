// Package identity derives stable sample identities from pixel coordinates
// and filters out samples that were already persisted.
package identity

import (
	"strconv"

	"github.com/google/uuid"

	"stratasample/internal/model"
)

// Namespace is the UUIDv5 namespace for sample identities.
var Namespace = uuid.NameSpaceDNS

// Key returns the name-based (SHA-1, version 5) UUID of "<row>_<col>". It
// depends on the coordinate only, never on class, value or time.
func Key(row, col int) uuid.UUID {
	name := make([]byte, 0, 24)
	name = strconv.AppendInt(name, int64(row), 10)
	name = append(name, '_')
	name = strconv.AppendInt(name, int64(col), 10)
	return uuid.NewSHA1(Namespace, name)
}

func KeyOf(c model.Coord) uuid.UUID {
	return Key(c.Row, c.Col)
}
