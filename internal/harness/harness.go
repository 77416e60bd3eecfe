// Package harness runs declarative compiler scenarios. A scenario YAML file
// describes a job, its sample and the expected outcome; the harness builds
// the job through the public API, compiles it and checks the expectations.
// Golden files pin full program listings.
package harness

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/qicode"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Build is the compiled job, nil when the compile failed.
	Build *compiler.CompiledJob

	// Err is the compile error, nil on success.
	Err error
}

// Run builds and compiles the scenario's job. The returned error covers
// harness-level problems only, such as a script referencing an undeclared
// variable; compile outcomes land in the Result so expectations can match
// on them.
func Run(scenario *Scenario) (*Result, error) {
	var jobOpts []qicode.JobOption
	if scenario.Options.SkipNCOSync {
		jobOpts = append(jobOpts, qicode.WithoutNCOSync())
	}
	if scenario.Options.NCOSyncDelay != nil {
		jobOpts = append(jobOpts, qicode.WithNCOSyncDelay(*scenario.Options.NCOSyncDelay))
	}

	j := qicode.NewJob(jobOpts...)
	cells := qicode.NewCells(j, scenario.Cells)
	var couplers []*qicode.Coupler
	if scenario.Couplers > 0 {
		couplers = qicode.NewCouplers(j, scenario.Couplers)
	}

	exec := &scriptExec{
		job:      j,
		cells:    cells,
		couplers: couplers,
		vars:     make(map[string]*qicode.Variable, len(scenario.Variables)),
	}
	for _, vs := range scenario.Variables {
		exec.vars[vs.Name] = declareVariable(j, vs)
	}
	exec.run("script", scenario.Script)
	if exec.err != nil {
		return nil, exec.err
	}

	opts := []compiler.Option{compiler.WithName(scenario.Name)}
	if scenario.Sample != nil {
		sample, err := buildSample(scenario.Sample)
		if err != nil {
			return &Result{Err: err}, nil
		}
		opts = append(opts, compiler.WithSample(sample))
	}
	if scenario.CellMap != nil {
		opts = append(opts, compiler.WithCellMap(scenario.CellMap))
	}

	build, err := compiler.Build(j, opts...)
	return &Result{Build: build, Err: err}, nil
}

func declareVariable(j *qicode.Job, vs VariableSpec) *qicode.Variable {
	name := qicode.WithName(vs.Name)
	switch vs.Type {
	case "int":
		return j.IntVariable(name)
	case "time":
		return j.TimeVariable(name)
	case "frequency":
		return j.FrequencyVariable(name)
	case "phase":
		return j.PhaseVariable(name)
	case "amplitude":
		return j.AmplitudeVariable(name)
	case "state":
		return j.StateVariable(name)
	default:
		return j.Variable(name)
	}
}

func buildSample(spec *SampleSpec) (*qicode.Sample, error) {
	sample := qicode.NewSample(len(spec.Cells))
	for i, props := range spec.Cells {
		for name, value := range props {
			sample.Cell(i).Set(name, value)
		}
	}
	if spec.CellMap != nil {
		if err := sample.SetCellMap(spec.CellMap); err != nil {
			return nil, err
		}
	}
	return sample, nil
}

// scriptExec replays scenario steps against the job builder. The first
// reference error stops the walk; builder errors stay inside the job and
// surface from the compile.
type scriptExec struct {
	job      *qicode.Job
	cells    []*qicode.Cell
	couplers []*qicode.Coupler
	vars     map[string]*qicode.Variable
	err      error
}

func (e *scriptExec) failf(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf(format, args...)
	}
}

func (e *scriptExec) run(path string, steps []Step) {
	for i, s := range steps {
		if e.err != nil {
			return
		}
		e.step(fmt.Sprintf("%s[%d]", path, i), s)
	}
}

// block defers a step list into a builder body closure.
func (e *scriptExec) block(path string, steps []Step) func() {
	return func() { e.run(path, steps) }
}

func (e *scriptExec) cell(path string, idx int) *qicode.Cell {
	if idx < 0 || idx >= len(e.cells) {
		e.failf("%s: cell %d is not in the job, have %d", path, idx, len(e.cells))
		return nil
	}
	return e.cells[idx]
}

func (e *scriptExec) coupler(path string, idx int) *qicode.Coupler {
	if idx < 0 || idx >= len(e.couplers) {
		e.failf("%s: coupler %d is not in the job, have %d", path, idx, len(e.couplers))
		return nil
	}
	return e.couplers[idx]
}

func (e *scriptExec) variable(path, name string) *qicode.Variable {
	v, ok := e.vars[name]
	if !ok {
		e.failf("%s: variable %q is not declared", path, name)
	}
	return v
}

// operand resolves a step value. Property references resolve against the
// step's cell and are rejected where no cell scopes them.
func (e *scriptExec) operand(path string, cell *qicode.Cell, v Value) any {
	switch v.ref {
	case "var":
		return e.variable(path, v.name)
	case "prop":
		if cell == nil {
			e.failf("%s: prop:%s needs a cell-scoped step", path, v.name)
			return nil
		}
		return cell.Prop(v.name)
	}
	if v.isInt {
		return int(v.lit)
	}
	return v.lit
}

func (e *scriptExec) step(path string, s Step) {
	switch {
	case s.Play != nil:
		if pulse, cell := e.pulse(path+".play", s.Play); e.err == nil {
			e.job.Play(cell, pulse)
		}
	case s.PlayReadout != nil:
		if pulse, cell := e.pulse(path+".play_readout", s.PlayReadout); e.err == nil {
			e.job.PlayReadout(cell, pulse)
		}
	case s.PlayFlux != nil:
		e.playFlux(path+".play_flux", s.PlayFlux)
	case s.RotateFrame != nil:
		if cell := e.cell(path+".rotate_frame", s.RotateFrame.Cell); e.err == nil {
			e.job.RotateFrame(cell, s.RotateFrame.Radians)
		}
	case s.Wait != nil:
		e.wait(path+".wait", s.Wait)
	case s.Recording != nil:
		e.recording(path+".recording", s.Recording)
	case s.Trigger != nil:
		if cell := e.cell(path+".digital_trigger", s.Trigger.Cell); e.err == nil {
			e.job.DigitalTrigger(cell, s.Trigger.Length, s.Trigger.Outputs)
		}
	case s.Assign != nil:
		e.assign(path+".assign", s.Assign)
	case s.Sync != nil:
		e.sync(path+".sync", s.Sync)
	case s.If != nil:
		e.branch(path+".if", s.If)
	case s.For != nil:
		e.forRange(path+".for", s.For)
	case s.Parallel != nil:
		bodies := make([]func(), len(s.Parallel))
		for i, branch := range s.Parallel {
			bodies[i] = e.block(fmt.Sprintf("%s.parallel[%d]", path, i), branch)
		}
		e.job.Parallel(bodies...)
	}
}

func (e *scriptExec) pulse(path string, ps *PulseStep) (*qicode.Pulse, *qicode.Cell) {
	cell := e.cell(path, ps.Cell)
	opts := e.pulseOptions(path, cell, ps.Shape, ps.Amplitude, ps.Frequency, ps.Phase, ps.Hold)
	if e.err != nil {
		return nil, nil
	}
	if ps.Continuous {
		return qicode.ContinuousPulse(opts...), cell
	}
	return qicode.NewPulse(e.operand(path, cell, ps.Length), opts...), cell
}

func (e *scriptExec) pulseOptions(path string, cell *qicode.Cell, shape string, amp, freq, phase *Value, hold bool) []qicode.PulseOption {
	var opts []qicode.PulseOption
	if shape != "" {
		s, ok := qicode.ShapeByName(shape)
		if !ok {
			e.failf("%s: unknown pulse shape %q", path, shape)
			return nil
		}
		opts = append(opts, qicode.WithShape(s))
	}
	if amp != nil {
		opts = append(opts, qicode.WithAmplitude(e.operand(path, cell, *amp)))
	}
	if freq != nil {
		opts = append(opts, qicode.WithFrequency(e.operand(path, cell, *freq)))
	}
	if phase != nil {
		opts = append(opts, qicode.WithPhase(e.operand(path, cell, *phase)))
	}
	if hold {
		opts = append(opts, qicode.WithHold())
	}
	return opts
}

func (e *scriptExec) playFlux(path string, fs *FluxStep) {
	coupler := e.coupler(path, fs.Coupler)
	opts := e.pulseOptions(path, nil, fs.Shape, nil, nil, nil, fs.Hold)
	if e.err != nil {
		return
	}
	if fs.Continuous {
		e.job.PlayFlux(coupler, qicode.ContinuousPulse(opts...))
		return
	}
	length := e.operand(path, nil, fs.Length)
	if e.err != nil {
		return
	}
	e.job.PlayFlux(coupler, qicode.NewPulse(length, opts...))
}

func (e *scriptExec) wait(path string, ws *WaitStep) {
	cell := e.cell(path, ws.Cell)
	length := e.operand(path, cell, ws.Length)
	if e.err != nil {
		return
	}
	e.job.Wait(cell, length)
}

func (e *scriptExec) recording(path string, rs *RecordingStep) {
	cell := e.cell(path, rs.Cell)
	length := e.operand(path, cell, rs.Length)
	var opts []qicode.RecordingOption
	if rs.Offset != nil {
		opts = append(opts, qicode.RecordingOffset(e.operand(path, cell, *rs.Offset)))
	}
	if rs.SaveTo != "" {
		opts = append(opts, qicode.SaveTo(rs.SaveTo))
	}
	if rs.StateTo != "" {
		opts = append(opts, qicode.StateTo(e.variable(path, rs.StateTo)))
	}
	if rs.ToggleContinuous != nil {
		opts = append(opts, qicode.ToggleContinuous(*rs.ToggleContinuous))
	}
	if e.err != nil {
		return
	}
	e.job.Recording(cell, length, opts...)
}

func (e *scriptExec) assign(path string, as *AssignStep) {
	dst := e.variable(path, as.Var)
	var value any
	switch {
	case as.Value != nil:
		value = e.operand(path, nil, *as.Value)
	case as.Add != nil:
		x, y := e.operand(path, nil, as.Add[0]), e.operand(path, nil, as.Add[1])
		if e.err != nil {
			return
		}
		value = qicode.Add(x, y)
	default:
		x, y := e.operand(path, nil, as.Sub[0]), e.operand(path, nil, as.Sub[1])
		if e.err != nil {
			return
		}
		value = qicode.Sub(x, y)
	}
	if e.err != nil {
		return
	}
	e.job.Assign(dst, value)
}

func (e *scriptExec) sync(path string, ss *SyncStep) {
	selected := make([]*qicode.Cell, len(ss.Cells))
	for i, idx := range ss.Cells {
		selected[i] = e.cell(path, idx)
	}
	if e.err != nil {
		return
	}
	e.job.Sync(selected...)
}

func (e *scriptExec) branch(path string, is *IfStep) {
	v := e.variable(path, is.Var)
	rhs := e.operand(path, nil, is.Value)
	if e.err != nil {
		return
	}
	e.job.If(condition(is.Op, v, rhs), e.block(path+".then", is.Then))
	if len(is.Else) > 0 {
		e.job.Else(e.block(path+".else", is.Else))
	}
}

func (e *scriptExec) forRange(path string, fs *ForStep) {
	v := e.variable(path, fs.Var)
	start := e.operand(path, nil, fs.Start)
	end := e.operand(path, nil, fs.End)
	step := e.operand(path, nil, fs.Step)
	if e.err != nil {
		return
	}
	e.job.ForRange(v, start, end, step, e.block(path+".body", fs.Body))
}

func condition(op string, a, b any) *qicode.Condition {
	switch op {
	case "==":
		return qicode.Eq(a, b)
	case "!=":
		return qicode.Ne(a, b)
	case ">":
		return qicode.Gt(a, b)
	case ">=":
		return qicode.Ge(a, b)
	case "<":
		return qicode.Lt(a, b)
	default:
		return qicode.Le(a, b)
	}
}
