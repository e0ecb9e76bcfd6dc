// Package config holds the run configuration, its defaults and the loaders
// that overlay files, environment and flags onto them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"stratasample/internal/extract"
	"stratasample/internal/model"
	"stratasample/internal/sampling"
	"stratasample/internal/scan"
	"stratasample/internal/sink"
	"stratasample/internal/storage"
)

var ErrInvalid = errors.New("invalid configuration")

const DefaultTable = "ecos_acuatico_continental.muestreo_humedales_giz"

type Config struct {
	Raster   RasterConfig   `json:"raster" yaml:"raster"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Scan     ScanConfig     `json:"scan" yaml:"scan"`
	Sampling SamplingConfig `json:"sampling" yaml:"sampling"`
	Sink     SinkConfig     `json:"sink" yaml:"sink"`

	Periods []extract.Period `json:"periods" yaml:"periods"`
	Classes map[int]string   `json:"classes" yaml:"classes"`

	ArtifactsDir string `json:"artifacts_dir" yaml:"artifacts_dir"`
}

type RasterConfig struct {
	Path    string `json:"path" yaml:"path"`
	Backend string `json:"backend" yaml:"backend"`
}

type StoreConfig struct {
	Kind  string `json:"kind" yaml:"kind"`
	DSN   string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Table string `json:"table" yaml:"table"`
	// SRID of the geometry column; 0 takes the raster EPSG code.
	SRID int `json:"srid" yaml:"srid"`
}

type ScanConfig struct {
	TileSize      int        `json:"tile_size" yaml:"tile_size"`
	ReferenceBand int        `json:"reference_band" yaml:"reference_band"`
	ValidityBands []int      `json:"validity_bands" yaml:"validity_bands"`
	ValidRange    scan.Range `json:"valid_range" yaml:"valid_range"`
	ClassMin      int        `json:"class_min" yaml:"class_min"`
	ClassMax      int        `json:"class_max" yaml:"class_max"`
}

type SamplingConfig struct {
	Fraction float64 `json:"fraction" yaml:"fraction"`
	Seed     *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

type SinkConfig struct {
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
	Policy    string `json:"policy" yaml:"policy"`
	StageDir  string `json:"stage_dir" yaml:"stage_dir"`
}

// Default mirrors the wetland sampling run: ten yearly bands 2015-2024,
// thirteen classes, 1024 pixel tiles, 10% per class, 500k record batches.
func Default() Config {
	classes := make(map[int]string)
	for id, name := range extract.DefaultClassTable() {
		classes[int(id)] = name
	}
	return Config{
		Raster: RasterConfig{Backend: "gdal"},
		Store: StoreConfig{
			Kind:  storage.DefaultStoreKind(),
			Table: DefaultTable,
		},
		Scan: ScanConfig{
			TileSize:      scan.DefaultTileSize,
			ReferenceBand: 1,
			ValidityBands: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			ValidRange:    scan.Range{Min: 1, Max: 13},
			ClassMin:      1,
			ClassMax:      13,
		},
		Sampling: SamplingConfig{Fraction: sampling.DefaultFraction},
		Sink: SinkConfig{
			BatchSize: sink.DefaultMaxSize,
			Policy:    string(sink.PolicyAbort),
			StageDir:  "staged",
		},
		Periods:      extract.YearPeriods(2015, 2024, 1),
		Classes:      classes,
		ArtifactsDir: "runs",
	}
}

// Load overlays the file at path onto Default. The decoder is chosen by
// extension: .yaml/.yml or .json.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalid, filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv fills the store DSN from the environment when the config has
// none: STRATASAMPLE_DSN first, then the DB_* connection variables (the
// DB_*_P spelling is accepted as well).
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Store.DSN != "" {
		return
	}
	if dsn := getenv("STRATASAMPLE_DSN"); dsn != "" {
		c.Store.DSN = dsn
		return
	}
	if c.Store.Kind != storage.KindPostgres {
		return
	}
	lookup := func(name string) string {
		if v := getenv(name); v != "" {
			return v
		}
		return getenv(name + "_P")
	}
	host := lookup("DB_HOST")
	if host == "" {
		return
	}
	if port := lookup("DB_PORT"); port != "" {
		host += ":" + port
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + lookup("DB_NAME"),
	}
	if user := lookup("DB_USER"); user != "" {
		if pw := lookup("DB_PASSWORD"); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	if mode := lookup("DB_SSLMODE"); mode != "" {
		u.RawQuery = url.Values{"sslmode": []string{mode}}.Encode()
	}
	c.Store.DSN = u.String()
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Raster.Path == "" {
		fail("raster path is required")
	}
	if _, err := model.ParseTableName(c.Store.Table); err != nil {
		fail("store table: %v", err)
	}
	if c.Store.Kind != storage.KindMemory && c.Store.Kind != "" && c.Store.DSN == "" {
		fail("store %s needs a dsn", c.Store.Kind)
	}
	if c.Store.SRID < 0 {
		fail("srid must be >= 0, got %d", c.Store.SRID)
	}
	if c.Scan.TileSize <= 0 {
		fail("tile size must be > 0, got %d", c.Scan.TileSize)
	}
	if c.Scan.ReferenceBand < 1 {
		fail("reference band must be >= 1, got %d", c.Scan.ReferenceBand)
	}
	if len(c.Scan.ValidityBands) == 0 {
		fail("at least one validity band is required")
	}
	for _, b := range c.Scan.ValidityBands {
		if b < 1 {
			fail("validity band must be >= 1, got %d", b)
		}
	}
	if c.Scan.ValidRange.Min > c.Scan.ValidRange.Max {
		fail("valid range min %g exceeds max %g", c.Scan.ValidRange.Min, c.Scan.ValidRange.Max)
	}
	if c.Scan.ClassMin > c.Scan.ClassMax {
		fail("class range min %d exceeds max %d", c.Scan.ClassMin, c.Scan.ClassMax)
	}
	if !(c.Sampling.Fraction > 0 && c.Sampling.Fraction <= 1) {
		fail("sampling fraction must be in (0, 1], got %g", c.Sampling.Fraction)
	}
	if c.Sink.BatchSize <= 0 {
		fail("batch size must be > 0, got %d", c.Sink.BatchSize)
	}
	if policy, err := sink.ParsePolicy(c.Sink.Policy); err != nil {
		fail("%v", err)
	} else if policy == sink.PolicyStage && c.Sink.StageDir == "" {
		fail("stage policy needs a stage_dir")
	}
	if len(c.Periods) == 0 {
		fail("at least one period is required")
	}
	years := make(map[int]bool, len(c.Periods))
	for _, p := range c.Periods {
		if p.Band < 1 {
			fail("period %d: band must be >= 1, got %d", p.Year, p.Band)
		}
		if years[p.Year] {
			fail("period %d configured twice", p.Year)
		}
		years[p.Year] = true
	}
	return result.ErrorOrNil()
}

// Redacted returns a copy whose DSN hides the password.
func (c Config) Redacted() Config {
	if u, err := url.Parse(c.Store.DSN); err == nil && u.User != nil {
		c.Store.DSN = u.Redacted()
	}
	return c
}

func (c Config) TableName() (model.TableName, error) {
	return model.ParseTableName(c.Store.Table)
}

func (c Config) ClassTable() extract.ClassTable {
	out := make(extract.ClassTable, len(c.Classes))
	for id, name := range c.Classes {
		out[model.ClassID(id)] = name
	}
	return out
}

func (c Config) ScanOptions() scan.Options {
	return scan.Options{
		TileSize:      c.Scan.TileSize,
		ValidityBands: append([]int(nil), c.Scan.ValidityBands...),
		ReferenceBand: c.Scan.ReferenceBand,
		ValidRange:    c.Scan.ValidRange,
		Classes:       scan.ClassSet(c.Scan.ClassMin, c.Scan.ClassMax),
	}
}

func (c Config) ExtractOptions() extract.Options {
	periods := append([]extract.Period(nil), c.Periods...)
	sort.SliceStable(periods, func(i, j int) bool { return periods[i].Year < periods[j].Year })
	return extract.Options{Periods: periods, Classes: c.ClassTable()}
}

// SinkOptions binds the batcher to table and srid.
func (c Config) SinkOptions(table model.TableName, srid int) sink.Options {
	return sink.Options{
		Table:    table,
		SRID:     srid,
		MaxSize:  c.Sink.BatchSize,
		Policy:   sink.Policy(c.Sink.Policy),
		StageDir: c.Sink.StageDir,
	}
}
