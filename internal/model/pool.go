package model

import "sort"

// CandidatePool accumulates valid pixel coordinates per class during a scan.
// Coordinates are kept in insertion order, which is raster order when the
// pool is filled by a sequential tile scan.
type CandidatePool struct {
	classes map[ClassID][]Coord
}

func NewCandidatePool() *CandidatePool {
	return &CandidatePool{classes: make(map[ClassID][]Coord)}
}

func (p *CandidatePool) Add(class ClassID, c Coord) {
	p.classes[class] = append(p.classes[class], c)
}

// Merge appends other into p and re-sorts every touched class into raster
// order, so the result is independent of merge order.
func (p *CandidatePool) Merge(other *CandidatePool) {
	if other == nil {
		return
	}
	for class, coords := range other.classes {
		if len(coords) == 0 {
			continue
		}
		merged := append(p.classes[class], coords...)
		sort.Slice(merged, func(i, j int) bool {
			if merged[i].Row != merged[j].Row {
				return merged[i].Row < merged[j].Row
			}
			return merged[i].Col < merged[j].Col
		})
		p.classes[class] = merged
	}
}

// Classes returns the classes with at least one candidate, ascending.
func (p *CandidatePool) Classes() []ClassID {
	out := make([]ClassID, 0, len(p.classes))
	for class, coords := range p.classes {
		if len(coords) > 0 {
			out = append(out, class)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Coords returns the candidate slice for class. The slice is shared with the
// pool; callers that reorder it consume the pool.
func (p *CandidatePool) Coords(class ClassID) []Coord {
	return p.classes[class]
}

func (p *CandidatePool) Len(class ClassID) int {
	return len(p.classes[class])
}

func (p *CandidatePool) Total() int {
	total := 0
	for _, coords := range p.classes {
		total += len(coords)
	}
	return total
}

// Counts returns the candidate count per class.
func (p *CandidatePool) Counts() map[ClassID]int {
	out := make(map[ClassID]int, len(p.classes))
	for class, coords := range p.classes {
		if len(coords) > 0 {
			out[class] = len(coords)
		}
	}
	return out
}
