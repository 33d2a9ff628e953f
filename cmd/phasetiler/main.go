package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phasetiler/internal/monitoring"
	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
	"phasetiler/pkg/journal"
	"phasetiler/pkg/metrics"
	"phasetiler/pkg/multiscale"
	"phasetiler/pkg/raster"
	"phasetiler/pkg/unwrap"
)

// options are the command line settings of one run.
type options struct {
	input, quality, output string
	rows, cols             int
	dtype                  string
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "YAML configuration file (defaults are used when empty or missing)")
	writeDefault := flag.String("write-default-config", "", "Write the default configuration to this path and exit")
	inputPath := flag.String("input", "", "Wrapped phase raster (flat little-endian binary)")
	qualityPath := flag.String("quality", "", "Optional quality raster of the same shape")
	outputPath := flag.String("output", "unwrapped.bin", "Output raster path")
	rows := flag.Int("rows", 0, "Number of raster rows")
	cols := flag.Int("cols", 0, "Number of raster columns")
	dtypeName := flag.String("dtype", "float32", "Sample type of the rasters: float32 or float64")
	workers := flag.Int("workers", 0, "Number of tiles processed concurrently (overrides config)")
	journalPath := flag.String("journal", "", "SQLite run journal (overrides config)")
	previewDir := flag.String("preview", "", "Directory for PNG previews (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	flag.Parse()

	if *writeDefault != "" {
		if err := config.CreateDefaultConfigFile(*writeDefault); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *writeDefault)
		return
	}

	if *inputPath == "" || *rows <= 0 || *cols <= 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if *workers > 0 {
		cfg.Processing.NumCores = *workers
	}
	if *journalPath != "" {
		cfg.Output.JournalPath = *journalPath
	}
	if *previewDir != "" {
		cfg.Output.PreviewDir = *previewDir
	}
	if *metricsAddr != "" {
		cfg.Output.MetricsAddr = *metricsAddr
	}
	if !cfg.Output.Verbose {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		input:   *inputPath,
		quality: *qualityPath,
		output:  *outputPath,
		rows:    *rows,
		cols:    *cols,
		dtype:   *dtypeName,
	}
	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Unwrapping failed (%s): %v\n", errs.Kind(err), err)
		stop()
		os.Exit(1)
	}
	fmt.Printf("Unwrapped phase saved to: %s\n", *outputPath)
	if cfg.Output.PreviewDir != "" {
		fmt.Printf("Previews saved to: %s\n", cfg.Output.PreviewDir)
	}
}

// checkRun validates everything that can be checked without touching a
// file: the configuration against the raster shape, the sample type and
// the unwrapping backends.
func checkRun(cfg *config.Config, opts options) (raster.DType, error) {
	dtype, err := raster.ParseDType(opts.dtype)
	if err != nil {
		return dtype, err
	}
	if _, err := multiscale.CheckParams(cfg, opts.rows, opts.cols); err != nil {
		return dtype, err
	}
	for _, name := range []string{cfg.Unwrap.Algorithm, cfg.Unwrap.CoarseAlgorithm} {
		if name == "" {
			continue
		}
		if _, err := unwrap.New(name, cfg.Unwrap, cfg.Processing.WrapPeriod); err != nil {
			return dtype, err
		}
	}
	return dtype, nil
}

// run opens the rasters and sinks and executes one orchestration run.
func run(ctx context.Context, cfg *config.Config, opts options) error {
	// Reject bad parameters before any file is opened or truncated
	dtype, err := checkRun(cfg, opts)
	if err != nil {
		return err
	}

	in, err := raster.OpenBinary(opts.input, opts.rows, opts.cols, dtype, false)
	if err != nil {
		return fmt.Errorf("error opening input: %w", err)
	}
	defer in.Close()

	params := multiscale.Params{Input: in, Config: cfg}
	if opts.quality != "" {
		q, err := raster.OpenBinary(opts.quality, opts.rows, opts.cols, dtype, false)
		if err != nil {
			return fmt.Errorf("error opening quality raster: %w", err)
		}
		defer q.Close()
		params.Quality = q
	}

	out, err := raster.CreateBinary(opts.output, opts.rows, opts.cols, dtype)
	if err != nil {
		return fmt.Errorf("error creating output: %w", err)
	}
	defer out.Close()
	params.Output = out

	if cfg.Output.JournalPath != "" {
		j, err := journal.Open(cfg.Output.JournalPath)
		if err != nil {
			return fmt.Errorf("error opening journal: %w", err)
		}
		defer j.Close()
		params.Journal = j
	}

	if cfg.Output.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		params.Metrics = metrics.NewCollector(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Output.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Warning: metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
	}

	orch, err := multiscale.NewOrchestrator(params)
	if err != nil {
		return err
	}

	nr, nc := orch.Partition().Grid()
	fmt.Printf("Unwrapping %dx%d raster in %d tiles (%dx%d) on %d workers\n",
		opts.rows, opts.cols, orch.Partition().Len(), nr, nc, cfg.Processing.NumCores)

	report, err := orch.Run(ctx)
	fmt.Println(report.Summary())
	return err
}
