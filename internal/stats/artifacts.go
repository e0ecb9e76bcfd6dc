package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const runIndexFile = "run_index.json"

var classCountsHeader = []string{"class", "name", "candidates", "sampled", "new"}

type ClassCount struct {
	Class      int    `json:"class"`
	Name       string `json:"name"`
	Candidates int    `json:"candidates"`
	Sampled    int    `json:"sampled"`
	New        int    `json:"new"`
}

// RunSummary is the outcome of one pipeline execution as written to
// summary.json.
type RunSummary struct {
	RunID        string `json:"run_id"`
	CreatedAtUTC string `json:"created_at_utc"`
	DryRun       bool   `json:"dry_run"`
	Raster       string `json:"raster"`
	Table        string `json:"table"`
	SRID         int    `json:"srid"`

	Tiles           int    `json:"tiles"`
	Candidates      int    `json:"candidates"`
	Sampled         int    `json:"sampled"`
	Existing        int    `json:"existing_identities"`
	DedupStatus     string `json:"dedup_status"`
	SkippedExisting int    `json:"skipped_existing"`
	New             int    `json:"new"`

	Records     int      `json:"records"`
	ReadErrors  int      `json:"read_errors"`
	Inserted    int64    `json:"inserted"`
	Dropped     int64    `json:"dropped"`
	Staged      int64    `json:"staged"`
	Flushes     int      `json:"flushes"`
	StagedFiles []string `json:"staged_files,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

type RunArtifacts struct {
	// Config is stored verbatim as config.json.
	Config      any          `json:"config"`
	Summary     RunSummary   `json:"summary"`
	ClassCounts []ClassCount `json:"class_counts"`
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	CreatedAtUTC string `json:"created_at_utc"`
	DryRun       bool   `json:"dry_run"`
	Raster       string `json:"raster"`
	Table        string `json:"table"`
	Sampled      int    `json:"sampled"`
	New          int    `json:"new"`
	Inserted     int64  `json:"inserted"`
}

// IndexEntry condenses s for run_index.json.
func IndexEntry(s RunSummary) RunIndexEntry {
	return RunIndexEntry{
		RunID:        s.RunID,
		CreatedAtUTC: s.CreatedAtUTC,
		DryRun:       s.DryRun,
		Raster:       s.Raster,
		Table:        s.Table,
		Sampled:      s.Sampled,
		New:          s.New,
		Inserted:     s.Inserted,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := artifacts.Summary.RunID
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if artifacts.Config != nil {
		if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
			return "", err
		}
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WriteClassCounts(runDir, artifacts.ClassCounts); err != nil {
		return "", err
	}
	return runDir, nil
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "summary.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return RunSummary{}, false, nil
		}
		return RunSummary{}, false, err
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, false, err
	}
	return summary, true, nil
}

func WriteClassCounts(runDir string, counts []ClassCount) error {
	file, err := os.Create(filepath.Join(runDir, "class_counts.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(classCountsHeader); err != nil {
		return err
	}
	for _, c := range counts {
		if err := writer.Write([]string{
			strconv.Itoa(c.Class),
			c.Name,
			strconv.Itoa(c.Candidates),
			strconv.Itoa(c.Sampled),
			strconv.Itoa(c.New),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadClassCounts(baseDir, runID string) ([]ClassCount, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, "class_counts.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []ClassCount{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < len(classCountsHeader) {
		return nil, false, fmt.Errorf("class counts header must have %d columns", len(classCountsHeader))
	}

	var out []ClassCount
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		ints := make([]int, 4)
		for i, col := range []int{0, 2, 3, 4} {
			v, err := strconv.Atoi(record[col])
			if err != nil {
				return nil, false, fmt.Errorf("class counts row %v: %w", record, err)
			}
			ints[i] = v
		}
		out = append(out, ClassCount{
			Class:      ints[0],
			Name:       record[1],
			Candidates: ints[1],
			Sampled:    ints[2],
			New:        ints[3],
		})
	}
	return out, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
