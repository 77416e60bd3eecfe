package qicode

import (
	"errors"

	"github.com/quantuminterface/qicode/internal/isa"
)

// Job collects a pulse-level program: the cells and couplers it drives,
// the command sequence, and the variables and result containers the
// program uses. Commands are added through the job's methods; structured
// commands take their bodies as closures. Errors accumulate on the job and
// surface from Err or Seal, so a program can be written straight through
// and checked once.
type Job struct {
	cells    []*Cell
	couplers []*Coupler

	commands []Command
	open     [][]Command

	variables []*Variable
	nextVarID int

	skipNCOSync  bool
	ncoSyncDelay float64

	errs   []error
	diags  []Diagnostic
	sealed bool
}

// JobOption adjusts a job under construction.
type JobOption func(*Job)

// WithoutNCOSync skips the oscillator synchronization normally emitted at
// program start.
func WithoutNCOSync() JobOption {
	return func(j *Job) { j.skipNCOSync = true }
}

// WithNCOSyncDelay waits the given duration after the oscillator
// synchronization at program start.
func WithNCOSyncDelay(seconds float64) JobOption {
	return func(j *Job) { j.ncoSyncDelay = seconds }
}

// NewJob returns an empty job.
func NewJob(opts ...JobOption) *Job {
	j := &Job{}
	for _, o := range opts {
		o(j)
	}
	return j
}

// NewCells attaches n cells to the job. A job holds exactly one cell set.
func NewCells(j *Job, n int) []*Cell {
	if j.cells != nil {
		j.failf(CodeJobMisuse, "can only register one set of cells per job")
		return j.cells
	}
	j.cells = make([]*Cell, n)
	for i := range j.cells {
		j.cells[i] = newCell(j, i)
	}
	return j.cells
}

// NewCouplers attaches n couplers to the job's cells. Each cell hosts two
// coupler slots; coupler i lands on cell i/2, slot i%2. Cells must exist
// first.
func NewCouplers(j *Job, n int) []*Coupler {
	if len(j.cells) == 0 {
		j.failf(CodeCouplerOrder, "no cells in the job, couplers must be created after cells")
		return nil
	}
	if j.couplers != nil {
		j.failf(CodeJobMisuse, "can only register one set of couplers per job")
		return j.couplers
	}
	if n > 2*len(j.cells) {
		j.failf(CodeCouplerOrder, "job has %d cells, at most %d couplers can be attached", len(j.cells), 2*len(j.cells))
		return nil
	}
	j.couplers = make([]*Coupler, n)
	for i := range j.couplers {
		j.couplers[i] = &Coupler{job: j, index: i, cell: j.cells[i/2], couplingIndex: i % 2}
	}
	return j.couplers
}

// Cells returns the job's cells.
func (j *Job) Cells() []*Cell { return j.cells }

// Couplers returns the job's couplers.
func (j *Job) Couplers() []*Coupler { return j.couplers }

// Commands returns the top-level command sequence.
func (j *Job) Commands() []Command { return j.commands }

// Variables returns every variable declared on the job, in declaration
// order.
func (j *Job) Variables() []*Variable { return j.variables }

// SkipsNCOSync reports whether the job omits the oscillator
// synchronization at program start.
func (j *Job) SkipsNCOSync() bool { return j.skipNCOSync }

// NCOSyncDelay returns the wait after the oscillator synchronization, in
// seconds.
func (j *Job) NCOSyncDelay() float64 { return j.ncoSyncDelay }

// InsertCommands places commands at position i of the top-level sequence.
// Analysis passes use this to plant parameter stores.
func (j *Job) InsertCommands(i int, cmds ...Command) {
	j.commands = insertCommands(j.commands, i, cmds...)
}

// Err returns every error accumulated so far, nil while the program is
// well formed.
func (j *Job) Err() error {
	return errors.Join(j.errs...)
}

// Diagnostics returns the non-fatal findings accumulated so far.
func (j *Job) Diagnostics() []Diagnostic { return j.diags }

func (j *Job) fail(err error) {
	if err != nil {
		j.errs = append(j.errs, err)
	}
}

func (j *Job) failf(code ErrorCode, format string, args ...any) {
	j.fail(newError(code, format, args...))
}

func (j *Job) warnf(code ErrorCode, format string, args ...any) {
	j.diags = append(j.diags, Diagnostic{
		Severity: SeverityWarning,
		Code:     code,
		Message:  newError(code, format, args...).Message,
	})
}

func (j *Job) addCommand(c Command) {
	if n := len(j.open); n > 0 {
		j.open[n-1] = append(j.open[n-1], c)
		return
	}
	j.commands = append(j.commands, c)
}

// peekCommand returns the last command of the innermost open context, nil
// when it is empty.
func (j *Job) peekCommand() Command {
	list := j.commands
	if n := len(j.open); n > 0 {
		list = j.open[n-1]
	}
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (j *Job) openContext() {
	j.open = append(j.open, nil)
}

func (j *Job) closeContext() []Command {
	n := len(j.open)
	if n == 0 {
		panic("qicode: unbalanced command context")
	}
	body := j.open[n-1]
	j.open = j.open[:n-1]
	return body
}

// commandAllowed runs the shared preconditions of every cell command.
func (j *Job) commandAllowed(cell *Cell) bool {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return false
	}
	if cell == nil || cell.job != j {
		j.failf(CodeCellNotInJob, "cell not defined for current job")
		return false
	}
	return true
}

// Play triggers the pulse on the cell's manipulation module.
func (j *Job) Play(cell *Cell, pulse *Pulse) {
	if !j.commandAllowed(cell) {
		return
	}
	if err := pulse.buildErr(); err != nil {
		j.fail(err)
		return
	}
	idx, err := cell.addManipulationPulse(pulse)
	if err != nil {
		j.fail(err)
		return
	}
	j.addCommand(newPlayCommand(cell, pulse, idx))
}

// PlayReadout triggers the pulse on the cell's readout module.
func (j *Job) PlayReadout(cell *Cell, pulse *Pulse) {
	if !j.commandAllowed(cell) {
		return
	}
	if err := pulse.buildErr(); err != nil {
		j.fail(err)
		return
	}
	idx, err := cell.addReadoutPulse(pulse)
	if err != nil {
		j.fail(err)
		return
	}
	j.addCommand(newPlayReadoutCommand(cell, pulse, idx))
}

// PlayFlux triggers the pulse on a coupler's flux module.
func (j *Job) PlayFlux(coupler *Coupler, pulse *Pulse) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	if coupler == nil || coupler.job != j {
		j.failf(CodeCellNotInJob, "coupler not defined for current job")
		return
	}
	if err := pulse.buildErr(); err != nil {
		j.fail(err)
		return
	}
	idx, err := coupler.addPulse(pulse)
	if err != nil {
		j.fail(err)
		return
	}
	j.addCommand(newPlayFluxCommand(coupler, pulse, idx))
}

// RotateFrame rotates the reference frame of the cell's manipulation
// pulses by the given angle, an instantaneous virtual Z rotation.
func (j *Job) RotateFrame(cell *Cell, radians float64) {
	if !j.commandAllowed(cell) {
		return
	}
	pulse := NewPulse(0.0, WithPhase(radians))
	pulse.shiftPhase = true
	if err := pulse.buildErr(); err != nil {
		j.fail(err)
		return
	}
	idx, err := cell.addManipulationPulse(pulse)
	if err != nil {
		j.fail(err)
		return
	}
	j.addCommand(newRotateFrameCommand(cell, radians, pulse, idx))
}

// RecordingOption adjusts a recording command.
type RecordingOption func(*RecordingCommand)

// SaveTo directs the recorded IQ data into the named result container.
func SaveTo(name string) RecordingOption {
	return func(c *RecordingCommand) { c.saveTo = name }
}

// StateTo stores the discriminated qubit state into the variable.
func StateTo(v *Variable) RecordingOption {
	return func(c *RecordingCommand) { c.stateTo = v }
}

// RecordingOffset delays the recording window. Accepts a duration, a
// variable or an expression.
func RecordingOffset(offset any) RecordingOption {
	return func(c *RecordingCommand) { c.offset = toExpression(offset) }
}

// ToggleContinuous switches seamless continuous recording on or off
// instead of recording one window.
func ToggleContinuous(on bool) RecordingOption {
	return func(c *RecordingCommand) { c.toggleContinuous = &on }
}

// Recording opens the cell's recording window for the given duration in
// seconds. A recording directly after a readout on the same cell merges
// into the readout trigger.
func (j *Job) Recording(cell *Cell, duration any, opts ...RecordingOption) {
	if !j.commandAllowed(cell) {
		return
	}
	rec := &RecordingCommand{
		cell:   cell,
		length: toExpression(duration),
		offset: newIntConstant(0),
	}
	for _, o := range opts {
		o(rec)
	}
	j.fail(exprErr(rec.length))
	j.fail(exprErr(rec.offset))
	switch rec.length.(type) {
	case *Constant, *CellProperty:
	default:
		j.failf(CodeInvalidLiteral, "recording length needs a constant duration, got %s", rec.length)
		return
	}
	j.fail(rec.length.typeInfo().setType(TypeTime, usePulseLength))
	j.fail(rec.offset.typeInfo().setType(TypeTime, useRecordingOffset))
	if rec.stateTo != nil {
		j.fail(rec.stateTo.typeInfo().setType(TypeState, useRecordingSaveTo))
		rec.vars.add(rec.stateTo)
	}
	if err := cell.addRecordingLength(rec.length); err != nil {
		j.fail(err)
		return
	}
	if rec.saveTo != "" {
		rec.resultBox = cell.resultContainer(rec.saveTo)
	}
	rec.cells.add(cell)
	rec.vars.addAll(rec.offset.ContainedVariables())

	if ro, ok := j.peekCommand().(*PlayReadoutCommand); ok && ro.cell == cell && ro.recording == nil {
		ro.attachRecording(rec)
		rec.followsReadout = true
		return
	}
	j.addCommand(rec)
}

// DigitalTrigger raises the given auxiliary outputs for the duration in
// seconds, resolution one cycle.
func (j *Job) DigitalTrigger(cell *Cell, seconds float64, outputs []int) {
	if !j.commandAllowed(cell) {
		return
	}
	set := newTriggerSet(outputs)
	idx, err := cell.addTriggerSet(set)
	if err != nil {
		j.fail(err)
		return
	}
	cmd := &DigitalTriggerCommand{
		cell:   cell,
		set:    set,
		index:  idx,
		length: newTypedConstant(newFloatConstant(seconds), TypeTime),
	}
	cmd.cells.add(cell)
	j.addCommand(cmd)
}

// Wait stalls the cell for the given duration in seconds. The duration
// may be a variable or an expression; a calculated duration costs extra
// cycles to evaluate before the wait starts.
func (j *Job) Wait(cell *Cell, duration any) {
	if !j.commandAllowed(cell) {
		return
	}
	length := toExpression(duration)
	j.fail(exprErr(length))
	j.fail(length.typeInfo().setType(TypeTime, useWaitLength))
	if _, isCalc := length.(*Calc); isCalc {
		j.warnf(CodeWaitCalcTiming, "calculations inside wait might impede timing")
	}
	cmd := &WaitCommand{cell: cell, length: length}
	cmd.cells.add(cell)
	cmd.vars.addAll(length.ContainedVariables())
	j.addCommand(cmd)
}

// Assign evaluates the expression into the variable at runtime.
func (j *Job) Assign(dst *Variable, value any) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	if dst == nil {
		j.failf(CodeInvalidLiteral, "assign needs a destination variable")
		return
	}
	val := toExpression(value)
	j.fail(exprErr(val))
	j.fail(dst.typeInfo().forbid(TypeState, "assign commands can not write a qubit state"))
	for _, t := range sharedTypes {
		j.fail(equalConstraints(t, "in an assignment", dst, val))
	}
	cmd := &AssignCommand{variable: dst, value: val}
	cmd.vars.add(dst)
	cmd.vars.addAll(val.ContainedVariables())
	j.addCommand(cmd)
}

// Store writes a value into a memory-mapped parameter register of the
// cell. The store-placement pass emits these for recording offsets and
// oscillator settings; direct use is for parameters the compiler does not
// manage.
func (j *Job) Store(cell *Cell, addr uint32, value any) {
	if !j.commandAllowed(cell) {
		return
	}
	val := toExpression(value)
	j.fail(exprErr(val))
	j.addCommand(NewMemStore(cell, addr, val))
}

// InlineASM splices a hand-built instruction into the cell's stream.
// cycles states how long it runs so synchronization stays accurate.
func (j *Job) InlineASM(cell *Cell, instr isa.Instruction, cycles int) {
	if !j.commandAllowed(cell) {
		return
	}
	if cycles < 1 {
		cycles = 1
	}
	cmd := &AsmCommand{cell: cell, instruction: instr, cycles: cycles}
	cmd.cells.add(cell)
	j.addCommand(cmd)
}

// Sync aligns the instruction streams of the given cells before the next
// command.
func (j *Job) Sync(cells ...*Cell) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	cmd := &SyncCommand{}
	for _, cell := range cells {
		if cell == nil || cell.job != j {
			j.failf(CodeCellNotInJob, "cell not defined for current job")
			return
		}
		cmd.cells.add(cell)
	}
	j.addCommand(cmd)
}

// If runs the body when the condition holds. The condition is either a
// *Condition or a bare expression, which reads as "greater than zero".
// Cells used inside the body synchronize before the branch.
func (j *Job) If(condition any, body func()) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	cond := conditionFrom(condition)
	j.fail(cond.buildErr())
	cmd := &IfCommand{condition: cond}
	cmd.vars.addAll(cond.ContainedVariables())
	j.openContext()
	body()
	cmd.body = j.closeContext()
	j.addCommand(cmd)
}

// Else attaches an alternative body to the directly preceding If.
func (j *Job) Else(body func()) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	ifCmd, ok := j.peekCommand().(*IfCommand)
	if !ok {
		j.failf(CodeElseWithoutIf, "else is not preceded by an if")
		return
	}
	if ifCmd.HasElse() {
		j.failf(CodeElseWithoutIf, "the preceding if already has an else body")
		return
	}
	j.openContext()
	body()
	ifCmd.elseBody = j.closeContext()
	ifCmd.elseSet = true
}

// ForRange runs the body once per value of v, from start towards end
// (exclusive) in steps of step. Cells used inside the body synchronize at
// the loop head and after each iteration.
func (j *Job) ForRange(v *Variable, start, end, step any, body func()) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	if v == nil {
		j.failf(CodeMalformedLoop, "loop control needs a variable")
		return
	}
	startE := toExpression(start)
	endE := toExpression(end)
	stepE := toExpression(step)
	j.fail(exprErr(startE))
	j.fail(exprErr(endE))
	j.fail(exprErr(stepE))

	const stateReason = "a loop can not iterate over qubit states"
	j.fail(v.typeInfo().forbid(TypeState, stateReason))
	j.fail(startE.typeInfo().forbid(TypeState, stateReason))
	j.fail(endE.typeInfo().forbid(TypeState, stateReason))
	j.fail(stepE.typeInfo().forbid(TypeState, stateReason))
	for _, t := range sharedTypes {
		j.fail(equalConstraints(t, "in a loop range", v, startE, endE, stepE))
	}

	stepC, ok := stepE.(*Constant)
	if !ok {
		j.failf(CodeMalformedLoop, "loop step needs a constant, got %s", stepE)
		return
	}
	if stepC.GivenValue() == 0 {
		j.failf(CodeMalformedLoop, "loop step can not be zero")
		return
	}
	startC, startConst := startE.(*Constant)
	endC, endConst := endE.(*Constant)
	if startConst && endConst {
		s, e, st := startC.GivenValue(), endC.GivenValue(), stepC.GivenValue()
		switch {
		case s > e && st > 0:
			j.failf(CodeMalformedLoop, "start (%v) is greater than end (%v) and the step is positive", startC, endC)
			return
		case s < e && st < 0:
			j.failf(CodeMalformedLoop, "start (%v) is less than end (%v) and the step is negative", startC, endC)
			return
		}
	}

	cmd := &ForRangeCommand{variable: v, start: startE, end: endE, step: stepE}
	cmd.vars.add(v)
	cmd.vars.addAll(startE.ContainedVariables())
	cmd.vars.addAll(endE.ContainedVariables())
	cmd.vars.addAll(stepE.ContainedVariables())

	j.openContext()
	body()
	cmd.body = j.closeContext()

	j.checkLoopBody(v, cmd.body)
	j.addCommand(cmd)
}

// checkLoopBody rejects writes to the loop variable inside the body and
// warns off loop variables inside parallel blocks, where the merged
// trigger timing can not follow them.
func (j *Job) checkLoopBody(v *Variable, body []Command) {
	for _, cmd := range body {
		switch c := cmd.(type) {
		case *AssignCommand:
			if c.variable.id == v.id {
				err := newError(CodeMalformedLoop, "the loop variable must not be assigned inside the loop body")
				err.Var = v.displayName()
				j.fail(err)
			}
		case *IfCommand:
			j.checkLoopBody(v, c.body)
			j.checkLoopBody(v, c.elseBody)
		case *ForRangeCommand:
			j.checkLoopBody(v, c.body)
		case *ParallelCommand:
			if c.usesVariable(v) {
				err := newError(CodeParallelUnsupported,
					"a loop variable inside a parallel block can have unexpected timing, unroll the loop or change the variable")
				err.Var = v.displayName()
				j.fail(err)
			}
		}
	}
}

// Parallel overlays the command timelines of the given bodies, uniting
// their pulses, waits and recordings into merged trigger words. At most
// two timelines combine; a single-body Parallel directly after another
// single-body Parallel merges into it. Bodies may hold plays, readouts,
// frame rotations, recordings and waits.
func (j *Job) Parallel(bodies ...func()) {
	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return
	}
	if len(bodies) > 2 {
		j.failf(CodeParallelArity, "a parallel block can overlay at most two timelines, got %d", len(bodies))
		return
	}
	var entries [][]Command
	for _, body := range bodies {
		j.openContext()
		body()
		cmds := j.closeContext()
		for _, cmd := range cmds {
			switch cmd.(type) {
			case *PlayCommand, *PlayReadoutCommand, *RotateFrameCommand, *RecordingCommand, *WaitCommand:
			default:
				j.failf(CodeParallelUnsupported, "%s commands are not supported inside a parallel block", commandName(cmd))
				return
			}
		}
		if len(cmds) > 0 {
			entries = append(entries, cmds)
		}
	}
	if len(entries) == 0 {
		return
	}
	if prev, ok := j.peekCommand().(*ParallelCommand); ok && len(prev.entries)+len(entries) <= 2 {
		for _, e := range entries {
			prev.appendEntry(e)
		}
		return
	}
	cmd := &ParallelCommand{}
	for _, e := range entries {
		cmd.appendEntry(e)
	}
	j.addCommand(cmd)
}

// VariableOption adjusts a variable declaration.
type VariableOption func(*variableSpec)

type variableSpec struct {
	name    string
	init    any
	hasInit bool
}

// WithName labels the variable for listings and diagnostics.
func WithName(name string) VariableOption {
	return func(s *variableSpec) { s.name = name }
}

// WithInitialValue assigns the value right after declaration.
func WithInitialValue(v any) VariableOption {
	return func(s *variableSpec) { s.init = v; s.hasInit = true }
}

// Variable declares a variable whose type is inferred from use.
func (j *Job) Variable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypeUnknown, opts)
}

// IntVariable declares a dimensionless integer variable.
func (j *Job) IntVariable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypeNormal, opts)
}

// TimeVariable declares a duration variable, in seconds.
func (j *Job) TimeVariable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypeTime, opts)
}

// FrequencyVariable declares a frequency variable, in hertz.
func (j *Job) FrequencyVariable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypeFrequency, opts)
}

// PhaseVariable declares a phase variable, in radians.
func (j *Job) PhaseVariable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypePhase, opts)
}

// AmplitudeVariable declares an amplitude variable relative to full
// scale.
func (j *Job) AmplitudeVariable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypeAmplitude, opts)
}

// StateVariable declares a qubit state variable, written by recordings.
func (j *Job) StateVariable(opts ...VariableOption) *Variable {
	return j.typedVariable(TypeState, opts)
}

func (j *Job) typedVariable(t Type, opts []VariableOption) *Variable {
	var spec variableSpec
	for _, o := range opts {
		o(&spec)
	}
	v, err := newVariable(j.nextVarID, spec.name, t)
	if err != nil {
		j.fail(err)
		v, _ = newVariable(j.nextVarID, spec.name, TypeUnknown)
	}
	j.nextVarID++
	j.variables = append(j.variables, v)

	if j.sealed {
		j.failf(CodeJobSealed, "no commands can be added after the job was sealed")
		return v
	}
	decl := &DeclareCommand{variable: v}
	decl.vars.add(v)
	j.addCommand(decl)

	if spec.hasInit {
		val := toExpression(spec.init)
		j.fail(exprErr(val))
		if c, ok := val.(*Constant); ok && t != TypeUnknown {
			j.fail(c.typeInfo().setType(t, useVariableDefinition))
		}
		j.Assign(v, val)
	}
	return v
}

// Seal finishes program construction: unresolved constants and loop
// variables fall back to their default types, every expression must end
// up typed, loop bounds are checked against the hardware grid, and cells
// and variables are bound to the commands using them. Seal is idempotent;
// it returns the job's accumulated error state.
func (j *Job) Seal() error {
	if j.sealed {
		return j.Err()
	}
	if len(j.open) > 0 {
		panic("qicode: unbalanced command context")
	}
	j.sealed = true

	j.runTypeFallback()
	j.runPostTypecheck()

	bindContainedCells(j.commands)
	bindVariableCells(j.commands)
	bindContainedCells(j.commands)

	return j.Err()
}

// Sealed reports whether Seal already ran.
func (j *Job) Sealed() bool { return j.sealed }
