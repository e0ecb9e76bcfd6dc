package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratasample/internal/model"
)

func TestSampleSize(t *testing.T) {
	cases := []struct {
		name     string
		n        int
		fraction float64
		want     int
	}{
		{name: "empty class", n: 0, fraction: 0.1, want: 0},
		{name: "five at ten percent rounds 0.5 to even then floors to one", n: 5, fraction: 0.1, want: 1},
		{name: "single candidate", n: 1, fraction: 0.1, want: 1},
		{name: "plain", n: 1000, fraction: 0.1, want: 100},
		{name: "half rounds down to even", n: 5, fraction: 0.5, want: 2},
		{name: "half rounds up to even", n: 7, fraction: 0.5, want: 4},
		{name: "full fraction", n: 9, fraction: 1, want: 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SampleSize(tc.n, tc.fraction))
		})
	}
}

func TestNewSamplerRejectsBadFraction(t *testing.T) {
	for _, f := range []float64{0, -0.1, 1.5} {
		_, err := NewSampler(f, nil)
		assert.Error(t, err, "fraction %g", f)
	}
}

func buildPool(counts map[model.ClassID]int) *model.CandidatePool {
	pool := model.NewCandidatePool()
	row := 0
	for class, n := range counts {
		for i := 0; i < n; i++ {
			pool.Add(class, model.Coord{Row: row, Col: i})
		}
		row++
	}
	return pool
}

func TestSampleDrawsPerClassWithoutReplacement(t *testing.T) {
	pool := buildPool(map[model.ClassID]int{1: 1000, 2: 5, 3: 37})
	candidates := map[model.ClassID]map[model.Coord]bool{}
	for _, class := range pool.Classes() {
		candidates[class] = map[model.Coord]bool{}
		for _, c := range pool.Coords(class) {
			candidates[class][c] = true
		}
	}

	seed := uint64(42)
	s, err := NewSampler(0.1, &seed)
	require.NoError(t, err)
	points, summary := s.Sample(pool)

	perClass := map[model.ClassID]int{}
	seen := map[model.Coord]bool{}
	for _, p := range points {
		perClass[p.Class]++
		assert.False(t, seen[p.Coord], "duplicate coordinate %v", p.Coord)
		seen[p.Coord] = true
		assert.True(t, candidates[p.Class][p.Coord], "coordinate %v not in class %d pool", p.Coord, p.Class)
	}
	assert.Equal(t, map[model.ClassID]int{1: 100, 2: 1, 3: 4}, perClass)
	assert.Equal(t, []ClassSample{
		{Class: 1, Candidates: 1000, Sampled: 100},
		{Class: 2, Candidates: 5, Sampled: 1},
		{Class: 3, Candidates: 37, Sampled: 4},
	}, summary)
}

func TestSampleIsReproducibleWithSeed(t *testing.T) {
	seed := uint64(7)
	a, err := NewSampler(0.2, &seed)
	require.NoError(t, err)
	b, err := NewSampler(0.2, &seed)
	require.NoError(t, err)

	pa, _ := a.Sample(buildPool(map[model.ClassID]int{4: 50}))
	pb, _ := b.Sample(buildPool(map[model.ClassID]int{4: 50}))
	assert.Equal(t, pa, pb)
}

func TestSampleEmptyPool(t *testing.T) {
	s, err := NewSampler(0.1, nil)
	require.NoError(t, err)
	points, summary := s.Sample(model.NewCandidatePool())
	assert.Empty(t, points)
	assert.Empty(t, summary)
}
