package identity

import (
	"context"

	"github.com/sirupsen/logrus"

	"stratasample/internal/model"
)

// Source is the part of a store the dedup stage reads.
type Source interface {
	TableExists(ctx context.Context, table model.TableName) (bool, error)
	DistinctIdentities(ctx context.Context, table model.TableName) (model.IdentitySet, error)
}

type LoadStatus string

const (
	StatusLoaded       LoadStatus = "loaded"
	StatusMissingTable LoadStatus = "missing_table"
	StatusFallback     LoadStatus = "fallback"
)

// LoadExisting reads the identities already stored in table. A missing table
// or any query failure yields an empty set and a warning instead of an error.
func LoadExisting(ctx context.Context, src Source, table model.TableName, logger logrus.FieldLogger) (model.IdentitySet, LoadStatus) {
	log := logger.WithField("action", "load_existing_identities").WithField("table", table.String())

	exists, err := src.TableExists(ctx, table)
	if err != nil {
		log.WithError(err).Warn("checking target table failed, continuing without filtering identities")
		return model.IdentitySet{}, StatusFallback
	}
	if !exists {
		log.Warn("target table does not exist yet, continuing without filtering identities")
		return model.IdentitySet{}, StatusMissingTable
	}

	set, err := src.DistinctIdentities(ctx, table)
	if err != nil {
		log.WithError(err).Warn("querying existing identities failed, continuing without filtering identities")
		return model.IdentitySet{}, StatusFallback
	}
	if set == nil {
		set = model.IdentitySet{}
	}
	return set, StatusLoaded
}

// Filter keeps the points whose identity is not in existing, paired with
// that identity. Input order is preserved.
func Filter(points []model.SamplePoint, existing model.IdentitySet) []model.IdentifiedPoint {
	out := make([]model.IdentifiedPoint, 0, len(points))
	for _, p := range points {
		id := KeyOf(p.Coord)
		if existing.Contains(id) {
			continue
		}
		out = append(out, model.IdentifiedPoint{SamplePoint: p, ID: id})
	}
	return out
}
