// Package sampling draws a fixed fraction of candidates per class without
// replacement.
package sampling

import (
	"fmt"
	"math"
	"math/rand/v2"

	"stratasample/internal/model"
)

const DefaultFraction = 0.10

// SampleSize returns max(1, round(fraction*n)) for n > 0 and 0 otherwise.
// Halves round to even, so 0.5 becomes 0 before the minimum of 1 applies and
// 2.5 becomes 2.
func SampleSize(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	k := int(math.RoundToEven(float64(n) * fraction))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

type Sampler struct {
	fraction float64
	rng      *rand.Rand
}

// NewSampler builds a sampler. A nil seed draws from an OS-seeded source, so
// consecutive runs pick different points.
func NewSampler(fraction float64, seed *uint64) (*Sampler, error) {
	if !(fraction > 0 && fraction <= 1) {
		return nil, fmt.Errorf("sampling fraction must be in (0, 1], got %g", fraction)
	}
	var src rand.Source
	if seed != nil {
		src = rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{fraction: fraction, rng: rand.New(src)}, nil
}

// ClassSample reports how many points were drawn from a class.
type ClassSample struct {
	Class      model.ClassID
	Candidates int
	Sampled    int
}

// Sample draws SampleSize(len, fraction) coordinates from every non-empty
// class of pool. It shuffles each class slice in place, so pool is consumed.
// Classes are visited in ascending order.
func (s *Sampler) Sample(pool *model.CandidatePool) ([]model.SamplePoint, []ClassSample) {
	classes := pool.Classes()
	total := 0
	for _, class := range classes {
		total += SampleSize(pool.Len(class), s.fraction)
	}

	points := make([]model.SamplePoint, 0, total)
	summary := make([]ClassSample, 0, len(classes))
	for _, class := range classes {
		coords := pool.Coords(class)
		k := SampleSize(len(coords), s.fraction)
		// Partial Fisher-Yates: the first k slots end up a uniform draw
		// without replacement.
		for i := 0; i < k; i++ {
			j := i + s.rng.IntN(len(coords)-i)
			coords[i], coords[j] = coords[j], coords[i]
			points = append(points, model.SamplePoint{Class: class, Coord: coords[i]})
		}
		summary = append(summary, ClassSample{Class: class, Candidates: len(coords), Sampled: k})
	}
	return points, summary
}
