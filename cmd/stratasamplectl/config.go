package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stratasample/internal/config"
	"stratasample/internal/extract"
)

// commonFlags are shared by every command. Only flags set on the command
// line override the config file.
type commonFlags struct {
	configPath    *string
	rasterPath    *string
	rasterBackend *string
	storeKind     *string
	dsn           *string
	table         *string
	srid          *int
	artifactsDir  *string
	stageDir      *string

	sampling *samplingFlags
}

type samplingFlags struct {
	tileSize      *int
	referenceBand *int
	validityBands *string
	fraction      *float64
	seed          *string
	years         *string
	firstBand     *int
	batchSize     *int
	policy        *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	defaults := config.Default()
	return &commonFlags{
		configPath:    fs.String("config", "", "path to a YAML or JSON config file"),
		rasterPath:    fs.String("raster", "", "path to the multi-band raster"),
		rasterBackend: fs.String("raster-backend", defaults.Raster.Backend, "raster backend: gdal"),
		storeKind:     fs.String("store", defaults.Store.Kind, "store backend: memory|sqlite|postgres"),
		dsn:           fs.String("dsn", "", "store DSN (or STRATASAMPLE_DSN / DB_* environment)"),
		table:         fs.String("table", defaults.Store.Table, "target table as schema.name"),
		srid:          fs.Int("srid", defaults.Store.SRID, "geometry SRID, 0 takes the raster EPSG code"),
		artifactsDir:  fs.String("artifacts-dir", defaults.ArtifactsDir, "run artifacts directory"),
		stageDir:      fs.String("stage-dir", defaults.Sink.StageDir, "directory for staged batches"),
	}
}

func addSamplingFlags(fs *flag.FlagSet, f *commonFlags) {
	defaults := config.Default()
	f.sampling = &samplingFlags{
		tileSize:      fs.Int("tile-size", defaults.Scan.TileSize, "square tile edge in pixels"),
		referenceBand: fs.Int("reference-band", defaults.Scan.ReferenceBand, "1-based band holding the class"),
		validityBands: fs.String("validity-bands", "", "comma-separated 1-based bands that must all be valid"),
		fraction:      fs.Float64("fraction", defaults.Sampling.Fraction, "fraction of candidates sampled per class"),
		seed:          fs.String("seed", "", "sampling seed (random when empty)"),
		years:         fs.String("years", "", "period years as first-last, mapped to consecutive bands"),
		firstBand:     fs.Int("first-band", 1, "band of the first year when -years is set"),
		batchSize:     fs.Int("batch-size", defaults.Sink.BatchSize, "records per insert batch"),
		policy:        fs.String("flush-policy", defaults.Sink.Policy, "flush failure policy: abort|retry|drop|stage"),
	}
}

// load builds the effective config: file (or defaults), then explicitly
// set flags, then environment for the DSN.
func (f *commonFlags) load(fs *flag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if *f.configPath != "" {
		loaded, err := config.Load(*f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	setFlags := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) {
		setFlags[fl.Name] = true
	})

	if setFlags["raster"] {
		cfg.Raster.Path = *f.rasterPath
	}
	if setFlags["raster-backend"] {
		cfg.Raster.Backend = *f.rasterBackend
	}
	if setFlags["store"] {
		cfg.Store.Kind = *f.storeKind
	}
	if setFlags["dsn"] {
		cfg.Store.DSN = *f.dsn
	}
	if setFlags["table"] {
		cfg.Store.Table = *f.table
	}
	if setFlags["srid"] {
		cfg.Store.SRID = *f.srid
	}
	if setFlags["artifacts-dir"] {
		cfg.ArtifactsDir = *f.artifactsDir
	}
	if setFlags["stage-dir"] {
		cfg.Sink.StageDir = *f.stageDir
	}
	if f.sampling != nil {
		if err := f.sampling.apply(setFlags, &cfg); err != nil {
			return config.Config{}, err
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func (s *samplingFlags) apply(setFlags map[string]bool, cfg *config.Config) error {
	if setFlags["tile-size"] {
		cfg.Scan.TileSize = *s.tileSize
	}
	if setFlags["reference-band"] {
		cfg.Scan.ReferenceBand = *s.referenceBand
	}
	if setFlags["validity-bands"] {
		bands, err := parseIntList(*s.validityBands)
		if err != nil {
			return fmt.Errorf("parse validity-bands: %w", err)
		}
		cfg.Scan.ValidityBands = bands
	}
	if setFlags["fraction"] {
		cfg.Sampling.Fraction = *s.fraction
	}
	if setFlags["seed"] && *s.seed != "" {
		seed, err := strconv.ParseUint(*s.seed, 10, 64)
		if err != nil {
			return fmt.Errorf("parse seed: %w", err)
		}
		cfg.Sampling.Seed = &seed
	}
	if setFlags["years"] {
		first, last, err := parseYearRange(*s.years)
		if err != nil {
			return err
		}
		cfg.Periods = extract.YearPeriods(first, last, *s.firstBand)
	}
	if setFlags["batch-size"] {
		cfg.Sink.BatchSize = *s.batchSize
	}
	if setFlags["flush-policy"] {
		cfg.Sink.Policy = *s.policy
	}
	return nil
}

func parseIntList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseYearRange(raw string) (int, int, error) {
	firstRaw, lastRaw, ok := strings.Cut(raw, "-")
	if !ok {
		firstRaw, lastRaw = raw, raw
	}
	first, err := strconv.Atoi(strings.TrimSpace(firstRaw))
	if err != nil {
		return 0, 0, fmt.Errorf("parse years %q: %w", raw, err)
	}
	last, err := strconv.Atoi(strings.TrimSpace(lastRaw))
	if err != nil {
		return 0, 0, fmt.Errorf("parse years %q: %w", raw, err)
	}
	if last < first {
		return 0, 0, fmt.Errorf("years %q: last year before first", raw)
	}
	return first, last, nil
}
