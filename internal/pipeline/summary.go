package pipeline

import (
	"sort"
	"time"

	"stratasample/internal/extract"
	"stratasample/internal/identity"
	"stratasample/internal/model"
	"stratasample/internal/raster"
	"stratasample/internal/sampling"
	"stratasample/internal/scan"
	"stratasample/internal/sink"
)

// ClassSummary breaks the sampling counts down per reference class.
type ClassSummary struct {
	Class      model.ClassID `json:"class"`
	Name       string        `json:"name"`
	Candidates int           `json:"candidates"`
	Sampled    int           `json:"sampled"`
	New        int           `json:"new"`
}

type Summary struct {
	DryRun bool        `json:"dry_run"`
	Raster raster.Info `json:"raster"`
	SRID   int         `json:"srid"`

	Scan            scan.Stats          `json:"scan"`
	Candidates      int                 `json:"candidates"`
	Sampled         int                 `json:"sampled"`
	Existing        int                 `json:"existing_identities"`
	DedupStatus     identity.LoadStatus `json:"dedup_status"`
	SkippedExisting int                 `json:"skipped_existing"`
	New             int                 `json:"new"`

	Extract extract.Stats  `json:"extract"`
	Sink    sink.Stats     `json:"sink"`
	Classes []ClassSummary `json:"classes"`

	Duration time.Duration `json:"duration_ns"`
}

// Inserted is the cumulative count of records flushed to the store.
func (s Summary) Inserted() int64 {
	return s.Sink.Inserted
}

func classSummaries(perClass []sampling.ClassSample, fresh []model.IdentifiedPoint, names extract.ClassTable) []ClassSummary {
	newByClass := make(map[model.ClassID]int)
	for _, p := range fresh {
		newByClass[p.Class]++
	}
	out := make([]ClassSummary, 0, len(perClass))
	for _, c := range perClass {
		out = append(out, ClassSummary{
			Class:      c.Class,
			Name:       names.Name(c.Class),
			Candidates: c.Candidates,
			Sampled:    c.Sampled,
			New:        newByClass[c.Class],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}
