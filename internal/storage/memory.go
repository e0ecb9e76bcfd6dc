package storage

import (
	"context"
	"sort"
	"sync"

	"stratasample/internal/model"
)

type memoryTable struct {
	srid    int
	records []model.Record
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	tables      map[string]*memoryTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.tables = make(map[string]*memoryTable)
	return nil
}

func (s *MemoryStore) EnsureTable(_ context.Context, table model.TableName, srid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.ensureLocked(table, srid)
	return nil
}

func (s *MemoryStore) ensureLocked(table model.TableName, srid int) *memoryTable {
	t, ok := s.tables[table.String()]
	if !ok {
		t = &memoryTable{srid: srid}
		s.tables[table.String()] = t
	}
	return t
}

func (s *MemoryStore) TableExists(_ context.Context, table model.TableName) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	_, ok := s.tables[table.String()]
	return ok, nil
}

func (s *MemoryStore) DistinctIdentities(_ context.Context, table model.TableName) (model.IdentitySet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	set := model.IdentitySet{}
	if t, ok := s.tables[table.String()]; ok {
		for _, rec := range t.records {
			set.Add(rec.SampleID)
		}
	}
	return set, nil
}

func (s *MemoryStore) Append(_ context.Context, table model.TableName, srid int, records []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	t := s.ensureLocked(table, srid)
	t.records = append(t.records, records...)
	return nil
}

func (s *MemoryStore) CountByPeriodClass(_ context.Context, table model.TableName) ([]model.PeriodClassCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	t, ok := s.tables[table.String()]
	if !ok {
		return nil, nil
	}
	type key struct {
		year  int
		class string
	}
	counts := make(map[key]int64)
	for _, rec := range t.records {
		counts[key{rec.Year, rec.ClassName}]++
	}
	out := make([]model.PeriodClassCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.PeriodClassCount{Year: k.year, ClassName: k.class, Records: n})
	}
	sortCounts(out)
	return out, nil
}

// Records returns a copy of the rows stored in table.
func (s *MemoryStore) Records(table model.TableName) []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[table.String()]
	if !ok {
		return nil
	}
	return append([]model.Record(nil), t.records...)
}

func sortCounts(counts []model.PeriodClassCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Year != counts[j].Year {
			return counts[i].Year < counts[j].Year
		}
		return counts[i].ClassName < counts[j].ClassName
	})
}
