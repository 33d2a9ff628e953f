// Package multiscale unwraps rasters too large for a single pass.
//
// A run first unwraps a multilooked copy of the whole raster in one call.
// That coarse reference fixes the global ambiguity. The raster is then
// partitioned into overlapping tiles that are unwrapped independently; each
// tile is shifted by the whole number of periods that best matches the
// reference projected onto it, and only its core is written to the output.
//
// The run moves through the states INIT, COARSE_UNWRAPPED, TILING, STITCHED
// and DONE, or ends in FAILED from any of them.
package multiscale

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"phasetiler/internal/models"
	"phasetiler/internal/monitoring"
	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
	"phasetiler/pkg/journal"
	"phasetiler/pkg/metrics"
	"phasetiler/pkg/preview"
	"phasetiler/pkg/raster"
	"phasetiler/pkg/resample"
	"phasetiler/pkg/tiling"
	"phasetiler/pkg/unwrap"
)

// State is a stage of an orchestration run.
type State int

const (
	StateInit State = iota
	StateCoarseUnwrapped
	StateTiling
	StateStitched
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCoarseUnwrapped:
		return "COARSE_UNWRAPPED"
	case StateTiling:
		return "TILING"
	case StateStitched:
		return "STITCHED"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Params holds everything a run needs.
type Params struct {
	// Input is the wrapped phase.
	Input raster.Reader

	// Quality is an optional per-sample quality of the same shape.
	Quality raster.Reader

	// Output receives the unwrapped phase. It is read back by the seam
	// consistency pass and for the output preview.
	Output raster.ReadWriter

	// Config holds the run options. It is validated by NewOrchestrator.
	Config *config.Config

	// Unwrapper overrides the tile backend named in Config.
	Unwrapper unwrap.Unwrapper

	// CoarseUnwrapper overrides the coarse backend named in Config.
	CoarseUnwrapper unwrap.Unwrapper

	// Journal and Metrics are optional sinks for tile outcomes.
	Journal *journal.Journal
	Metrics *metrics.Collector
}

// Orchestrator drives one multiscale unwrapping run.
type Orchestrator struct {
	params    Params
	cfg       *config.Config
	partition *tiling.Partition
	tileUnw   unwrap.Unwrapper
	coarseUnw unwrap.Unwrapper

	mu    sync.Mutex
	state State
	ref   *CoarseReference
}

// CheckParams validates cfg for a rows × cols raster and returns the tile
// partition it implies. It touches no file, so callers can run it before
// creating their output.
func CheckParams(cfg *config.Config, rows, cols int) (*tiling.Partition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Looks may not exceed the raster, or the reference collapses.
	if d := cfg.Coarse.Decimation; d.Rows > rows || d.Cols > cols {
		return nil, errs.Configf("coarse.decimation", "%dx%d exceeds raster shape %dx%d", d.Rows, d.Cols, rows, cols)
	}
	return tiling.NewPartition(rows, cols, cfg.Tiling.TileSize, cfg.Tiling.Overlap)
}

// NewOrchestrator validates the configuration and the raster shapes and
// builds the tile partition. It performs no raster I/O, so invalid
// parameters fail before any block is read or written.
func NewOrchestrator(params Params) (*Orchestrator, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if params.Input == nil || params.Output == nil {
		return nil, errs.Configf("raster", "input and output are required")
	}

	rows, cols := params.Input.Shape()
	if or, oc := params.Output.Shape(); or != rows || oc != cols {
		return nil, errs.Configf("output", "shape %dx%d does not match input %dx%d", or, oc, rows, cols)
	}
	if params.Quality != nil {
		if qr, qc := params.Quality.Shape(); qr != rows || qc != cols {
			return nil, errs.Configf("quality", "shape %dx%d does not match input %dx%d", qr, qc, rows, cols)
		}
	}

	p, err := CheckParams(cfg, rows, cols)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		params:    params,
		cfg:       cfg,
		partition: p,
		tileUnw:   params.Unwrapper,
		coarseUnw: params.CoarseUnwrapper,
	}
	if o.tileUnw == nil {
		if o.tileUnw, err = unwrap.New(cfg.Unwrap.Algorithm, cfg.Unwrap, cfg.Processing.WrapPeriod); err != nil {
			return nil, err
		}
	}
	if o.coarseUnw == nil {
		name := cfg.Unwrap.CoarseAlgorithm
		if name == "" {
			name = cfg.Unwrap.Algorithm
		}
		if o.coarseUnw, err = unwrap.New(name, cfg.Unwrap, cfg.Processing.WrapPeriod); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// State returns the current state of the run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Partition returns the tile partition of the run.
func (o *Orchestrator) Partition() *tiling.Partition {
	return o.partition
}

// Reference returns the coarse reference once the coarse stage completed.
func (o *Orchestrator) Reference() *CoarseReference {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ref
}

func (o *Orchestrator) setState(runID string, s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.params.Metrics.SetState(s.String())
	if prev != s {
		monitoring.Logf("run %s: %s -> %s", runID, prev, s)
	}
}

// Run executes the whole pipeline. The returned report is never nil; on
// failure it describes the run up to the failing stage.
func (o *Orchestrator) Run(ctx context.Context) (*models.Report, error) {
	rows, cols := o.partition.Shape()
	runID := uuid.New().String()
	report := &models.Report{
		RunID:   runID,
		Rows:    rows,
		Cols:    cols,
		Started: time.Now(),
	}
	o.setState(runID, StateInit)
	o.startJournal(report)

	err := o.run(ctx, report)
	report.Total = time.Since(report.Started)
	if err != nil {
		o.setState(runID, StateFailed)
		report.State = StateFailed.String()
		monitoring.Logf("run %s failed: %v", runID, err)
		o.finishJournal(runID, StateFailed, err)
		return report, err
	}
	report.State = StateDone.String()
	o.finishJournal(runID, StateDone, nil)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, report *models.Report) error {
	cfg := o.cfg

	// Stage 1: coarse reference
	coarseStart := time.Now()
	opts := CoarseOptions{Unwrapper: o.coarseUnw, Averaging: resample.AverageComplex, Period: cfg.Processing.WrapPeriod}
	if cfg.Coarse.Averaging == config.AverageMagnitudePhase {
		opts.Averaging = resample.AverageMagnitudePhase
	}
	if cfg.Coarse.AntiAlias {
		f := cfg.Coarse.Filter
		var err error
		if opts.RowTaps, err = resample.DecimationFilter(cfg.Coarse.Decimation.Rows, f.PassRipple, f.StopAttenuation, f.TransitionFraction); err != nil {
			return err
		}
		if opts.ColTaps, err = resample.DecimationFilter(cfg.Coarse.Decimation.Cols, f.PassRipple, f.StopAttenuation, f.TransitionFraction); err != nil {
			return err
		}
	}
	ref, err := CoarseUnwrap(ctx, o.params.Input, o.params.Quality, cfg.Coarse.Decimation, opts)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.ref = ref
	o.mu.Unlock()
	report.CoarseRows, report.CoarseCols = ref.CoarseShape()
	report.CoarseDuration = time.Since(coarseStart)
	o.setState(report.RunID, StateCoarseUnwrapped)

	if dir := cfg.Output.PreviewDir; dir != "" {
		if err := preview.SaveHeatmap(ref.phase, "Coarse reference", filepath.Join(dir, "coarse_reference.png")); err != nil {
			monitoring.Logf("run %s: warning: %v", report.RunID, err)
		}
	}

	// Stage 2: tiles
	tilingStart := time.Now()
	o.setState(report.RunID, StateTiling)
	outcomes, err := o.processTiles(ctx, report.RunID)
	for _, t := range outcomes {
		if t.Status != "" {
			report.Tiles = append(report.Tiles, t)
		}
	}
	report.TilingDuration = time.Since(tilingStart)
	if err != nil {
		return err
	}
	o.setState(report.RunID, StateStitched)

	// Stage 3: seam consistency
	if cfg.Stitching.ConsistencyCheck {
		seams, err := CheckSeams(o.params.Output, o.partition, cfg.Stitching.Tolerance(cfg.Processing.WrapPeriod))
		if err != nil {
			return err
		}
		report.Seams = seams
		o.params.Metrics.AddSeamViolations(len(seams))
		for _, s := range seams {
			monitoring.Logf("run %s: seam %d/%d jumps by %.3f at %d samples", report.RunID, s.A, s.B, s.MaxJump, s.Count)
		}
	}

	if dir := cfg.Output.PreviewDir; dir != "" {
		if err := preview.SaveRasterPreview(o.params.Output, 1024, "Unwrapped phase", filepath.Join(dir, "unwrapped.png")); err != nil {
			monitoring.Logf("run %s: warning: %v", report.RunID, err)
		}
	}

	o.setState(report.RunID, StateDone)
	return nil
}

// processTiles runs every tile on a bounded worker pool. Scheduling stops
// at the first fatal tile error or when ctx is cancelled; tiles already
// running are allowed to finish.
func (o *Orchestrator) processTiles(ctx context.Context, runID string) ([]models.TileOutcome, error) {
	outcomes := make([]models.TileOutcome, o.partition.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Processing.NumCores)
	for _, tile := range o.partition.Tiles() {
		if gctx.Err() != nil {
			break
		}
		tile := tile
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := o.processTile(gctx, runID, tile)
			outcomes[tile.Index] = out
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return outcomes, err
}

// processTile unwraps one tile, resolves its cycle offset and writes its
// core. Recoverable unwrapping failures fall back to the projected
// reference under the degrade policy.
func (o *Orchestrator) processTile(ctx context.Context, runID string, tile tiling.Tile) (models.TileOutcome, error) {
	start := time.Now()
	out := models.TileOutcome{Index: tile.Index, Core: tile.Core, Extent: tile.Extent}
	fail := func(err error) (models.TileOutcome, error) {
		tileErr := &errs.TileError{Index: tile.Index, Extent: tile.Extent, Err: err}
		out.Status = models.TileFailed
		out.Err = err.Error()
		out.Duration = time.Since(start)
		o.record(runID, out)
		return out, tileErr
	}

	wrapped, err := raster.ReadExtent(o.params.Input, tile.Extent)
	if err != nil {
		return fail(err)
	}
	var quality *mat.Dense
	if o.params.Quality != nil {
		if quality, err = raster.ReadExtent(o.params.Quality, tile.Extent); err != nil {
			return fail(err)
		}
	}
	ref, err := o.ref.Project(tile.Extent, o.cfg.Stitching.Upsample)
	if err != nil {
		return fail(err)
	}

	period := o.cfg.Processing.WrapPeriod
	phase, offset, samples, uerr := o.unwrapTile(ctx, wrapped, quality, ref)
	if uerr != nil {
		if o.cfg.Stitching.FailurePolicy != config.PolicyDegrade || !errs.IsRecoverable(uerr) {
			return fail(uerr)
		}
		monitoring.Logf("run %s: tile %d (%s) degraded to coarse reference: %v", runID, tile.Index, tile.Extent, uerr)
		phase = ref
		out.Status = models.TileDegraded
		out.Err = uerr.Error()
	} else {
		shift := float64(offset) * period
		phase.Apply(func(_, _ int, v float64) float64 { return v + shift }, phase)
		out.Status = models.TileUnwrapped
		out.Offset = offset
		out.Samples = samples
	}

	core := tile.CoreLocal()
	block := phase.Slice(core.Rows.Start, core.Rows.Stop, core.Cols.Start, core.Cols.Stop)
	if err := o.params.Output.WriteBlock(tile.Core.Rows, tile.Core.Cols, block); err != nil {
		return fail(err)
	}

	out.Duration = time.Since(start)
	o.record(runID, out)
	return out, nil
}

// unwrapTile returns the raw unwrap of a tile and the offset that aligns it
// with ref. The returned phase is not yet shifted.
func (o *Orchestrator) unwrapTile(ctx context.Context, wrapped, quality, ref *mat.Dense) (*mat.Dense, int, int, error) {
	res, err := o.tileUnw.Unwrap(ctx, wrapped, quality)
	if err != nil {
		var unwrapErr *errs.UnwrapError
		if !errors.As(err, &unwrapErr) && ctx.Err() == nil {
			// Backends outside this module may return plain errors; they are
			// still unwrapping failures.
			err = &errs.UnwrapError{Algorithm: o.tileUnw.Name(), Reason: "backend failed", Err: err}
		}
		return nil, 0, 0, err
	}
	r, c := wrapped.Dims()
	if pr, pc := res.Phase.Dims(); pr != r || pc != c {
		return nil, 0, 0, &errs.UnwrapError{
			Algorithm: o.tileUnw.Name(),
			Reason:    fmt.Sprintf("returned %dx%d block for %dx%d input", pr, pc, r, c),
		}
	}
	offset, n, err := EstimateOffset(res.Phase, ref, quality, res.Labels, OffsetParams{
		Period:    o.cfg.Processing.WrapPeriod,
		Statistic: o.cfg.Stitching.Statistic,
		Threshold: o.cfg.Stitching.QualityThreshold,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return res.Phase, offset, n, nil
}

func (o *Orchestrator) record(runID string, t models.TileOutcome) {
	o.params.Metrics.ObserveTile(string(t.Status), t.Duration)
	if t.Status == models.TileUnwrapped {
		o.params.Metrics.ObserveOffset(t.Offset)
	}
	if o.params.Journal != nil {
		if err := o.params.Journal.RecordTile(runID, t); err != nil {
			monitoring.Logf("run %s: warning: %v", runID, err)
		}
	}
}

func (o *Orchestrator) startJournal(report *models.Report) {
	if o.params.Journal == nil {
		return
	}
	cfg := o.cfg
	err := o.params.Journal.StartRun(journal.Run{
		ID:             report.RunID,
		Started:        report.Started,
		Rows:           report.Rows,
		Cols:           report.Cols,
		TileRows:       cfg.Tiling.TileSize.Rows,
		TileCols:       cfg.Tiling.TileSize.Cols,
		OverlapRows:    cfg.Tiling.Overlap.Rows,
		OverlapCols:    cfg.Tiling.Overlap.Cols,
		DecimationRows: cfg.Coarse.Decimation.Rows,
		DecimationCols: cfg.Coarse.Decimation.Cols,
		Upsample:       string(cfg.Stitching.Upsample),
		Statistic:      string(cfg.Stitching.Statistic),
		FailurePolicy:  string(cfg.Stitching.FailurePolicy),
		Algorithm:      o.tileUnw.Name(),
	})
	if err != nil {
		monitoring.Logf("run %s: warning: %v", report.RunID, err)
	}
}

func (o *Orchestrator) finishJournal(runID string, s State, runErr error) {
	if o.params.Journal == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := o.params.Journal.FinishRun(runID, s.String(), msg); err != nil {
		monitoring.Logf("run %s: warning: %v", runID, err)
	}
}
