package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"stratasample/internal/logging"
	"stratasample/internal/metrics"
	"stratasample/internal/raster"
	api "stratasample/pkg/stratasample"
)

var (
	stdout io.Writer = os.Stdout
	// rasterOpener is swapped in tests to avoid GDAL.
	rasterOpener = raster.FileOpener
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "info":
		return runInfo(ctx, args[1:])
	case "scan":
		return runExecute(ctx, "scan", args[1:])
	case "run":
		return runExecute(ctx, "run", args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "replay":
		return runReplay(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(cfgFlags *commonFlags, fs *flag.FlagSet, m *metrics.Metrics) (*api.Client, error) {
	cfg, err := cfgFlags.load(fs)
	if err != nil {
		return nil, err
	}
	return api.New(api.Options{
		Config:  cfg,
		Logger:  logging.New(os.Stderr),
		Metrics: m,
		Opener:  rasterOpener(cfg.Raster.Backend, cfg.Raster.Path),
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cfgFlags := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(cfgFlags, fs, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialized table=%s\n", client.Table())
	return nil
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	cfgFlags := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit raster info as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(cfgFlags, fs, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	info, err := client.Info(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(info)
	}
	nodata := "none"
	if info.NoData != nil {
		nodata = fmt.Sprintf("%g", *info.NoData)
	}
	fmt.Fprintf(stdout, "width=%d height=%d bands=%d nodata=%s epsg=%d geotransform=%v\n",
		info.Width, info.Height, info.Bands, nodata, info.EPSG, info.GeoTransform)
	return nil
}

func runExecute(ctx context.Context, mode string, args []string) error {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	cfgFlags := addCommonFlags(fs)
	addSamplingFlags(fs, cfgFlags)
	runID := fs.String("run-id", "", "explicit run id (optional)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	metricsTextfile := fs.String("metrics-textfile", "", "write final metrics to this node-exporter textfile")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := metrics.New()
	client, err := newClient(cfgFlags, fs, m)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	var summary api.RunSummary
	err = withMetrics(ctx, m, *metricsAddr, *metricsTextfile, func(ctx context.Context) error {
		var err error
		if mode == "scan" {
			summary, err = client.Scan(ctx, api.RunRequest{RunID: *runID})
		} else {
			summary, err = client.Run(ctx, api.RunRequest{RunID: *runID})
		}
		return err
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(summary)
	}
	fmt.Fprintf(stdout, "%s completed run_id=%s candidates=%s sampled=%s existing=%s new=%s\n",
		mode,
		summary.RunID,
		humanize.Comma(int64(summary.Candidates)),
		humanize.Comma(int64(summary.Sampled)),
		humanize.Comma(int64(summary.SkippedExisting)),
		humanize.Comma(int64(summary.New)),
	)
	for _, c := range summary.Classes {
		fmt.Fprintf(stdout, "class=%d name=%q candidates=%d sampled=%d new=%d\n", c.Class, c.Name, c.Candidates, c.Sampled, c.New)
	}
	if mode == "run" {
		fmt.Fprintf(stdout, "records=%d read_errors=%d inserted=%d dropped=%d staged=%d\n",
			summary.Extract.Records,
			summary.Extract.ReadErrors,
			summary.Sink.Inserted,
			summary.Sink.Dropped,
			summary.Sink.Staged,
		)
	}
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(stdout, "artifacts_dir=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	cfgFlags := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit counts as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(cfgFlags, fs, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	counts, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(counts)
	}
	if len(counts) == 0 {
		fmt.Fprintln(stdout, "no records")
		return nil
	}
	for _, c := range counts {
		fmt.Fprintf(stdout, "year=%d class=%q records=%d\n", c.Year, c.ClassName, c.Records)
	}
	return nil
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	cfgFlags := addCommonFlags(fs)
	dir := fs.String("dir", "", "staging directory (defaults to the configured stage dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(cfgFlags, fs, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	replayed, err := client.Replay(ctx, api.ReplayRequest{Dir: *dir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "replayed files=%d/%d records=%d skipped=%d\n", replayed.Replayed, replayed.Files, replayed.Records, replayed.Skipped)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	cfgFlags := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(cfgFlags, fs, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s dry_run=%t raster=%s table=%s sampled=%d new=%d inserted=%d\n",
			e.RunID,
			e.CreatedAtUTC,
			e.DryRun,
			e.Raster,
			e.Table,
			e.Sampled,
			e.New,
			e.Inserted,
		)
	}
	return nil
}

// withMetrics runs fn, serving m on addr meanwhile when addr is set, and
// writes the final registry to textfile when that is set.
func withMetrics(ctx context.Context, m *metrics.Metrics, addr, textfile string, fn func(context.Context) error) error {
	var err error
	if addr == "" {
		err = fn(ctx)
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			return fn(gctx)
		})
		err = g.Wait()
	}

	if textfile != "" {
		if werr := m.WriteTextfile(textfile); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: stratasamplectl <init|info|scan|run|stats|replay|runs> [flags]", msg)
}
