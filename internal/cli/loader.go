package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// LoadedJob is a job description read from a CUE file, ready to compile.
type LoadedJob struct {
	// Name labels the build. Taken from the file's name field, falling
	// back to the file name itself.
	Name string

	Job *qicode.Job

	// CellMap assigns each job cell a sample cell, nil when the file
	// leaves the assignment to the compiler.
	CellMap []int
}

// LoadError is a job or sample description problem. It carries the CUE
// source position when one is known.
type LoadError struct {
	Code    qicode.ErrorCode
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func loadErrorf(pos token.Pos, format string, args ...any) *LoadError {
	return &LoadError{Code: qicode.CodeLoaderFailed, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// cueError folds a CUE error into a LoadError, keeping the first source
// position when one is attached.
func cueError(err error) *LoadError {
	le := &LoadError{Code: qicode.CodeLoaderFailed, Message: err.Error()}
	if errs := errors.Errors(err); len(errs) > 0 {
		le.Message = errs[0].Error()
		if positions := errors.Positions(errs[0]); len(positions) > 0 {
			le.Pos = positions[0]
		}
	}
	return le
}

// LoadJob reads a CUE job description and replays it against the job
// builder. The returned job is not yet sealed; compiling it runs the
// full validation.
func LoadJob(path string) (*LoadedJob, error) {
	value, err := loadValue(path)
	if err != nil {
		return nil, err
	}
	return buildJob(path, value)
}

// LoadSampleFile reads a sample description. CUE files go through the
// CUE loader, everything else through the YAML reader.
func LoadSampleFile(path string) (*qicode.Sample, error) {
	if filepath.Ext(path) != ".cue" {
		return qicode.LoadSample(path)
	}
	value, err := loadValue(path)
	if err != nil {
		return nil, err
	}

	cellsVal := value.LookupPath(cue.ParsePath("cells"))
	if !cellsVal.Exists() {
		return nil, loadErrorf(value.Pos(), "a sample needs a cells list")
	}
	iter, err := cellsVal.List()
	if err != nil {
		return nil, cueError(err)
	}
	var cells []map[string]float64
	for iter.Next() {
		props := make(map[string]float64)
		fields, err := iter.Value().Fields()
		if err != nil {
			return nil, cueError(err)
		}
		for fields.Next() {
			v, err := fields.Value().Float64()
			if err != nil {
				return nil, cueError(err)
			}
			props[fields.Label()] = v
		}
		cells = append(cells, props)
	}
	if len(cells) == 0 {
		return nil, loadErrorf(cellsVal.Pos(), "a sample needs at least one cell")
	}

	sample := qicode.NewSample(len(cells))
	for i, props := range cells {
		for name, v := range props {
			sample.Cell(i).Set(name, v)
		}
	}
	if cm := value.LookupPath(cue.ParsePath("cell_map")); cm.Exists() {
		m, err := intList(cm)
		if err != nil {
			return nil, err
		}
		if err := sample.SetCellMap(m); err != nil {
			return nil, err
		}
	}
	return sample, nil
}

// loadValue reads one CUE file into a built value.
func loadValue(path string) (cue.Value, error) {
	var none cue.Value

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return none, loadErrorf(token.NoPos, "%s not found", path)
	}
	if err != nil {
		return none, loadErrorf(token.NoPos, "reading %s: %v", path, err)
	}
	if info.IsDir() {
		return none, loadErrorf(token.NoPos, "%s is a directory, need a .cue file", path)
	}
	if filepath.Ext(path) != ".cue" {
		return none, loadErrorf(token.NoPos, "%s is not a .cue file", path)
	}

	instances := load.Instances([]string{path}, &load.Config{})
	if len(instances) == 0 {
		return none, loadErrorf(token.NoPos, "no CUE instance in %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return none, cueError(inst.Err)
	}
	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return none, cueError(err)
	}
	return value, nil
}

func buildJob(path string, value cue.Value) (*LoadedJob, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if s, ok, err := stringField(value, "name"); err != nil {
		return nil, err
	} else if ok {
		name = s
	}

	cellsVal := value.LookupPath(cue.ParsePath("cells"))
	if !cellsVal.Exists() {
		return nil, loadErrorf(value.Pos(), "cells is required")
	}
	cells64, err := cellsVal.Int64()
	if err != nil {
		return nil, cueError(err)
	}
	cells := int(cells64)
	if cells < 1 {
		return nil, loadErrorf(cellsVal.Pos(), "the job needs at least one cell")
	}

	couplers, _, err := intField(value, "couplers")
	if err != nil {
		return nil, err
	}
	if couplers < 0 || couplers > 2*cells {
		return nil, loadErrorf(value.Pos(), "couplers needs to be between 0 and twice the cell count")
	}

	opts, err := jobOptions(value)
	if err != nil {
		return nil, err
	}

	j := qicode.NewJob(opts...)
	jobCells := qicode.NewCells(j, cells)
	var jobCouplers []*qicode.Coupler
	if couplers > 0 {
		jobCouplers = qicode.NewCouplers(j, couplers)
	}

	vars, err := declareVariables(j, value)
	if err != nil {
		return nil, err
	}

	var cellMap []int
	if cm := value.LookupPath(cue.ParsePath("cell_map")); cm.Exists() {
		if cellMap, err = intList(cm); err != nil {
			return nil, err
		}
	}

	programVal := value.LookupPath(cue.ParsePath("program"))
	if !programVal.Exists() {
		return nil, loadErrorf(value.Pos(), "program is required and must be non-empty")
	}
	w := &jobWalker{job: j, cells: jobCells, couplers: jobCouplers, vars: vars}
	w.walk(programVal)
	if w.err != nil {
		return nil, w.err
	}

	return &LoadedJob{Name: name, Job: j, CellMap: cellMap}, nil
}

// jobOptions reads the options struct into job options.
func jobOptions(value cue.Value) ([]qicode.JobOption, error) {
	optsVal := value.LookupPath(cue.ParsePath("options"))
	if !optsVal.Exists() {
		return nil, nil
	}
	var opts []qicode.JobOption
	skip, _, err := boolField(optsVal, "skip_nco_sync")
	if err != nil {
		return nil, err
	}
	if skip {
		opts = append(opts, qicode.WithoutNCOSync())
	}
	delay, ok, err := floatField(optsVal, "nco_sync_delay")
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, qicode.WithNCOSyncDelay(delay))
	}
	return opts, nil
}

// declareVariables reads the variables list and declares each one on the
// job, typed when the entry names a type.
func declareVariables(j *qicode.Job, value cue.Value) (map[string]*qicode.Variable, error) {
	vars := make(map[string]*qicode.Variable)
	listVal := value.LookupPath(cue.ParsePath("variables"))
	if !listVal.Exists() {
		return vars, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, cueError(err)
	}
	for iter.Next() {
		v := iter.Value()
		name, ok, err := stringField(v, "name")
		if err != nil {
			return nil, err
		}
		if !ok || name == "" {
			return nil, loadErrorf(v.Pos(), "a variable needs a name")
		}
		if _, dup := vars[name]; dup {
			return nil, loadErrorf(v.Pos(), "variable %q is declared twice", name)
		}
		typ, _, err := stringField(v, "type")
		if err != nil {
			return nil, err
		}
		opt := qicode.WithName(name)
		switch typ {
		case "int":
			vars[name] = j.IntVariable(opt)
		case "time":
			vars[name] = j.TimeVariable(opt)
		case "frequency":
			vars[name] = j.FrequencyVariable(opt)
		case "phase":
			vars[name] = j.PhaseVariable(opt)
		case "amplitude":
			vars[name] = j.AmplitudeVariable(opt)
		case "state":
			vars[name] = j.StateVariable(opt)
		case "":
			vars[name] = j.Variable(opt)
		default:
			return nil, loadErrorf(v.Pos(), "unknown variable type %q", typ)
		}
	}
	return vars, nil
}

func stringField(v cue.Value, name string) (string, bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, cueError(err)
	}
	return s, true, nil
}

func intField(v cue.Value, name string) (int, bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, false, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, false, cueError(err)
	}
	return int(n), true, nil
}

func floatField(v cue.Value, name string) (float64, bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, false, nil
	}
	x, err := f.Float64()
	if err != nil {
		return 0, false, cueError(err)
	}
	return x, true, nil
}

func boolField(v cue.Value, name string) (bool, bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return false, false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, false, cueError(err)
	}
	return b, true, nil
}

func intList(v cue.Value) ([]int, error) {
	iter, err := v.List()
	if err != nil {
		return nil, cueError(err)
	}
	var out []int
	for iter.Next() {
		n, err := iter.Value().Int64()
		if err != nil {
			return nil, cueError(err)
		}
		out = append(out, int(n))
	}
	return out, nil
}
