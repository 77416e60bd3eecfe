// Package compiler drives a job through the full pipeline: seal,
// property resolution against a sample, parameter store placement,
// recording-order simulation and per-cell sequencing. The result is a
// self-contained build record ready for the program archive or for
// upload to the controller.
package compiler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantuminterface/qicode/internal/placement"
	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/sequencer"
	"github.com/quantuminterface/qicode/internal/simulate"
)

// CompiledJob is one finished build: the binary program per cell plus
// everything needed to interpret its results later.
type CompiledJob struct {
	BuildID   uuid.UUID
	CreatedAt time.Time

	// Name labels the build in the archive. Empty when the job was
	// compiled anonymously.
	Name string

	// Job is the canonical textual form of the compiled job.
	Job string

	// CellMap maps each job cell onto its controller cell.
	CellMap []int

	Programs []*sequencer.Program

	// ResultOrders lists, per program, the result names in acquisition
	// order of one shot.
	ResultOrders [][]string

	Diagnostics []qicode.Diagnostic
}

// Program returns the program built for the given controller cell, or
// nil when the build has none.
func (c *CompiledJob) Program(cellIndex int) *sequencer.Program {
	for _, p := range c.Programs {
		if p.CellIndex == cellIndex {
			return p
		}
	}
	return nil
}

// Assembly flattens the per-cell listings into one annotated dump.
func (c *CompiledJob) Assembly() []string {
	var lines []string
	for _, p := range c.Programs {
		lines = append(lines, fmt.Sprintf("cell %d:", p.CellIndex))
		lines = append(lines, p.Listing()...)
	}
	return lines
}

type config struct {
	sample      *qicode.Sample
	cellMap     []int
	name        string
	skipNCOSync bool
	ncoDelay    float64
	ncoDelaySet bool
}

// Option configures one build.
type Option func(*config)

// WithSample compiles the job against the given sample's calibrated
// properties. Without it, jobs referencing cell properties fail to
// resolve.
func WithSample(s *qicode.Sample) Option {
	return func(c *config) { c.sample = s }
}

// WithCellMap assigns each job cell a sample cell. The sample's own
// cell map then carries the assignment through to controller cells.
func WithCellMap(cellMap []int) Option {
	return func(c *config) { c.cellMap = append([]int(nil), cellMap...) }
}

// WithName labels the build for the archive.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithoutNCOSync drops the oscillator sync trigger at program start.
func WithoutNCOSync() Option {
	return func(c *config) { c.skipNCOSync = true }
}

// NCOSyncLength overrides the settle delay after the oscillator sync.
func NCOSyncLength(seconds float64) Option {
	return func(c *config) {
		c.ncoDelay = seconds
		c.ncoDelaySet = true
	}
}

// Build compiles a job into per-cell programs. The job is sealed if it
// was not already; a job that failed construction fails the build with
// its first recorded error.
func Build(j *qicode.Job, opts ...Option) (*CompiledJob, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := j.Seal(); err != nil {
		return nil, err
	}

	cells := j.Cells()
	sample := cfg.sample
	if sample == nil {
		sample = qicode.NewSample(len(cells))
	}
	if sample.Len() < len(cells) {
		return nil, &qicode.Error{
			Code: qicode.CodeCellMapInvalid,
			Message: fmt.Sprintf("the job needs a sample with at least %d cells, but only %d are provided",
				len(cells), sample.Len()),
		}
	}

	cellMap, err := sampleCellMap(cfg.cellMap, len(cells), sample.Len())
	if err != nil {
		return nil, err
	}
	if err := sample.ResolveJob(j, cellMap); err != nil {
		return nil, err
	}

	// From here on cell indices are controller cells.
	hwMap := make([]int, len(cellMap))
	for i, m := range cellMap {
		hwMap[i] = sample.CellMap()[m]
	}

	if err := placement.Apply(j); err != nil {
		return nil, err
	}
	order, err := simulate.Run(j)
	if err != nil {
		return nil, err
	}
	order.Commit()

	seqOpts := sequencer.Options{
		SkipNCOSync:  j.SkipsNCOSync() || cfg.skipNCOSync,
		NCOSyncDelay: j.NCOSyncDelay(),
	}
	if cfg.ncoDelaySet {
		seqOpts.NCOSyncDelay = cfg.ncoDelay
	}
	programs, err := sequencer.Build(cells, hwMap, j.Commands(), seqOpts)
	if err != nil {
		return nil, err
	}

	resultOrders := make([][]string, len(programs))
	for i, cell := range cells {
		names := make([]string, 0, len(cell.RecordingOrder()))
		for _, res := range cell.RecordingOrder() {
			names = append(names, res.Name())
		}
		resultOrders[i] = names
	}

	return &CompiledJob{
		BuildID:      uuid.New(),
		CreatedAt:    time.Now().UTC(),
		Name:         cfg.name,
		Job:          j.String(),
		CellMap:      hwMap,
		Programs:     programs,
		ResultOrders: resultOrders,
		Diagnostics:  collectDiagnostics(j, programs),
	}, nil
}

// sampleCellMap validates the job-to-sample mapping and defaults it to
// the identity.
func sampleCellMap(cellMap []int, cells, sampleCells int) ([]int, error) {
	if cellMap == nil {
		cellMap = make([]int, cells)
		for i := range cellMap {
			cellMap[i] = i
		}
		return cellMap, nil
	}
	if len(cellMap) != cells {
		return nil, &qicode.Error{
			Code: qicode.CodeCellMapInvalid,
			Message: fmt.Sprintf("cell_map needs as many entries as the job has cells, but %d entries given and %d required",
				len(cellMap), cells),
		}
	}
	seen := make(map[int]struct{}, len(cellMap))
	for _, m := range cellMap {
		if m < 0 || m >= sampleCells {
			return nil, &qicode.Error{
				Code:    qicode.CodeCellMapInvalid,
				Message: fmt.Sprintf("cell_map values can only point into the sample, i.e. between 0 and %d", sampleCells-1),
			}
		}
		if _, dup := seen[m]; dup {
			return nil, &qicode.Error{
				Code:    qicode.CodeCellMapInvalid,
				Message: "duplicate values are not allowed in cell_map",
			}
		}
		seen[m] = struct{}{}
	}
	return cellMap, nil
}

// collectDiagnostics merges job level warnings with the per-program
// ones. Warnings repeated verbatim across cells collapse into one.
func collectDiagnostics(j *qicode.Job, programs []*sequencer.Program) []qicode.Diagnostic {
	var out []qicode.Diagnostic
	seen := make(map[qicode.Diagnostic]struct{})
	add := func(d qicode.Diagnostic) {
		if _, dup := seen[d]; dup {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range j.Diagnostics() {
		add(d)
	}
	for _, p := range programs {
		for _, d := range p.Diagnostics {
			add(d)
		}
	}
	return out
}
