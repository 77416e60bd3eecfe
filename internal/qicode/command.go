package qicode

import (
	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/units"
)

// cellSet collects cells preserving first-seen order.
type cellSet struct {
	cells []*Cell
	seen  map[*Cell]struct{}
}

func (s *cellSet) add(c *Cell) {
	if s.seen == nil {
		s.seen = make(map[*Cell]struct{})
	}
	if _, ok := s.seen[c]; ok {
		return
	}
	s.seen[c] = struct{}{}
	s.cells = append(s.cells, c)
}

func (s *cellSet) addAll(cs []*Cell) {
	for _, c := range cs {
		s.add(c)
	}
}

func (s *cellSet) has(c *Cell) bool {
	_, ok := s.seen[c]
	return ok
}

// Command is one step of a job program. Commands form a tree: structured
// commands carry bodies of further commands. Every command knows the cells
// whose instruction streams it touches and the runtime variables it reads
// or writes; both sets are completed by the binding pass when the job is
// sealed.
type Command interface {
	// RelevantCells lists the cells whose instruction streams the command
	// touches.
	RelevantCells() []*Cell

	// Variables lists the runtime variables the command reads or writes.
	Variables() []*Variable

	isCommand()
}

// commandMeta is the bookkeeping every command embeds.
type commandMeta struct {
	cells cellSet
	vars  variableSet
}

func (m *commandMeta) isCommand() {}

func (m *commandMeta) RelevantCells() []*Cell { return m.cells.cells }

func (m *commandMeta) Variables() []*Variable { return m.vars.vars }

func (m *commandMeta) usesVariable(v *Variable) bool {
	if m.vars.seen == nil {
		return false
	}
	_, ok := m.vars.seen[v.id]
	return ok
}

// PlayCommand triggers a pulse on the cell's manipulation module.
type PlayCommand struct {
	commandMeta
	cell  *Cell
	pulse *Pulse
	index int

	length         Expression
	varSingleCycle bool
}

func newPlayCommand(cell *Cell, pulse *Pulse, index int) *PlayCommand {
	c := &PlayCommand{cell: cell, pulse: pulse, index: index, length: pulse.Length()}
	c.cells.add(cell)
	c.vars.addAll(pulse.Variables())
	return c
}

// Cell returns the cell whose manipulation module plays the pulse.
func (c *PlayCommand) Cell() *Cell { return c.cell }

// Pulse returns the played pulse.
func (c *PlayCommand) Pulse() *Pulse { return c.pulse }

// TableIndex returns the 1-based pulse table slot.
func (c *PlayCommand) TableIndex() int { return c.index }

// Length returns the trigger length. It starts out as the pulse length and
// shrinks to one cycle in unrolled loop iterations.
func (c *PlayCommand) Length() Expression { return c.length }

// VarSingleCycle reports whether a variable-length trigger was reduced to
// a single cycle by loop unrolling.
func (c *PlayCommand) VarSingleCycle() bool { return c.varSingleCycle }

// PlayReadoutCommand triggers a pulse on the cell's readout module. A
// recording issued directly after it on the same cell merges into the
// readout so both fire in one trigger word.
type PlayReadoutCommand struct {
	commandMeta
	cell  *Cell
	pulse *Pulse
	index int

	length         Expression
	varSingleCycle bool

	recording *RecordingCommand
}

func newPlayReadoutCommand(cell *Cell, pulse *Pulse, index int) *PlayReadoutCommand {
	c := &PlayReadoutCommand{cell: cell, pulse: pulse, index: index, length: pulse.Length()}
	c.cells.add(cell)
	c.vars.addAll(pulse.Variables())
	return c
}

// Cell returns the cell whose readout module plays the pulse.
func (c *PlayReadoutCommand) Cell() *Cell { return c.cell }

// Pulse returns the played readout pulse.
func (c *PlayReadoutCommand) Pulse() *Pulse { return c.pulse }

// TableIndex returns the 1-based pulse table slot.
func (c *PlayReadoutCommand) TableIndex() int { return c.index }

// Length returns the trigger length, see PlayCommand.Length.
func (c *PlayReadoutCommand) Length() Expression { return c.length }

// VarSingleCycle reports whether a variable-length trigger was reduced to
// a single cycle by loop unrolling.
func (c *PlayReadoutCommand) VarSingleCycle() bool { return c.varSingleCycle }

// Recording returns the merged recording, nil when the readout stands
// alone.
func (c *PlayReadoutCommand) Recording() *RecordingCommand { return c.recording }

func (c *PlayReadoutCommand) attachRecording(rec *RecordingCommand) {
	c.recording = rec
	c.vars.addAll(rec.Variables())
}

// PlayFluxCommand triggers a flux pulse on a coupler.
type PlayFluxCommand struct {
	commandMeta
	coupler *Coupler
	pulse   *Pulse
	index   int

	length Expression
}

func newPlayFluxCommand(coupler *Coupler, pulse *Pulse, index int) *PlayFluxCommand {
	c := &PlayFluxCommand{coupler: coupler, pulse: pulse, index: index, length: pulse.Length()}
	c.cells.add(coupler.Cell())
	c.vars.addAll(pulse.Variables())
	return c
}

// Cell returns the cell hosting the coupler.
func (c *PlayFluxCommand) Cell() *Cell { return c.coupler.Cell() }

// Coupler returns the driven coupler.
func (c *PlayFluxCommand) Coupler() *Coupler { return c.coupler }

// Pulse returns the played flux pulse.
func (c *PlayFluxCommand) Pulse() *Pulse { return c.pulse }

// TableIndex returns the 1-based flux pulse table slot.
func (c *PlayFluxCommand) TableIndex() int { return c.index }

// Length returns the trigger length.
func (c *PlayFluxCommand) Length() Expression { return c.length }

// RotateFrameCommand advances the manipulation oscillator phase, a virtual
// Z rotation. It occupies a pulse table slot whose entry only shifts phase
// and plays nothing.
type RotateFrameCommand struct {
	commandMeta
	cell    *Cell
	radians float64
	pulse   *Pulse
	index   int

	length Expression
}

func newRotateFrameCommand(cell *Cell, radians float64, pulse *Pulse, index int) *RotateFrameCommand {
	c := &RotateFrameCommand{cell: cell, radians: radians, pulse: pulse, index: index, length: pulse.Length()}
	c.cells.add(cell)
	return c
}

// Cell returns the cell whose frame rotates.
func (c *RotateFrameCommand) Cell() *Cell { return c.cell }

// Angle returns the rotation in radians.
func (c *RotateFrameCommand) Angle() float64 { return c.radians }

// Pulse returns the phase-shift table entry.
func (c *RotateFrameCommand) Pulse() *Pulse { return c.pulse }

// TableIndex returns the 1-based pulse table slot.
func (c *RotateFrameCommand) TableIndex() int { return c.index }

// Length returns the trigger length, zero time for a frame rotation.
func (c *RotateFrameCommand) Length() Expression { return c.length }

// VarSingleCycle always reports false, rotations have no length to shrink.
func (c *RotateFrameCommand) VarSingleCycle() bool { return false }

// RecordingCommand opens the cell's recording window. The duration is
// fixed per cell; the window offset may vary at runtime. Results land in a
// named result container, the measured qubit state optionally in a
// variable.
type RecordingCommand struct {
	commandMeta
	cell   *Cell
	length Expression
	offset Expression

	saveTo    string
	resultBox *Result
	stateTo   *Variable

	toggleContinuous *bool

	followsReadout bool
}

// Cell returns the recording cell.
func (c *RecordingCommand) Cell() *Cell { return c.cell }

// Length returns the recording window duration.
func (c *RecordingCommand) Length() Expression { return c.length }

// Offset returns the recording window offset expression.
func (c *RecordingCommand) Offset() Expression { return c.offset }

// SaveTo returns the result container name, empty when the recording only
// feeds a state variable.
func (c *RecordingCommand) SaveTo() string { return c.saveTo }

// ResultBox returns the result container, nil without SaveTo.
func (c *RecordingCommand) ResultBox() *Result { return c.resultBox }

// StateTo returns the variable receiving the discriminated qubit state,
// nil when unused.
func (c *RecordingCommand) StateTo() *Variable { return c.stateTo }

// UsesState reports whether the recording feeds a state variable.
func (c *RecordingCommand) UsesState() bool { return c.stateTo != nil }

// ToggleContinuous reports the continuous-mode toggle: on tells whether
// this command starts or stops continuous recording, ok whether the
// recording toggles at all.
func (c *RecordingCommand) ToggleContinuous() (on, ok bool) {
	if c.toggleContinuous == nil {
		return false, false
	}
	return *c.toggleContinuous, true
}

// FollowsReadout reports whether the recording merged into the preceding
// readout trigger.
func (c *RecordingCommand) FollowsReadout() bool { return c.followsReadout }

// DigitalTriggerCommand raises auxiliary digital outputs for a fixed
// duration, aligned with the cell's instruction stream.
type DigitalTriggerCommand struct {
	commandMeta
	cell   *Cell
	set    *TriggerSet
	index  int
	length Expression
}

// Cell returns the triggering cell.
func (c *DigitalTriggerCommand) Cell() *Cell { return c.cell }

// Outputs lists the raised output lines.
func (c *DigitalTriggerCommand) Outputs() []int { return c.set.Outputs() }

// TableIndex returns the 1-based trigger set slot.
func (c *DigitalTriggerCommand) TableIndex() int { return c.index }

// Length returns the trigger duration.
func (c *DigitalTriggerCommand) Length() Expression { return c.length }

// WaitCommand stalls the cell's instruction stream for a duration.
type WaitCommand struct {
	commandMeta
	cell   *Cell
	length Expression
}

// Cell returns the waiting cell.
func (c *WaitCommand) Cell() *Cell { return c.cell }

// Length returns the wait duration expression.
func (c *WaitCommand) Length() Expression { return c.length }

// AssignCommand evaluates an expression into a variable.
type AssignCommand struct {
	commandMeta
	variable *Variable
	value    Expression
}

// Variable returns the written variable.
func (c *AssignCommand) Variable() *Variable { return c.variable }

// Value returns the assigned expression.
func (c *AssignCommand) Value() Expression { return c.value }

// DeclareCommand introduces a variable. Each cell that later touches the
// variable reserves a register when the declaration lowers.
type DeclareCommand struct {
	commandMeta
	variable *Variable
}

// Variable returns the declared variable.
func (c *DeclareCommand) Variable() *Variable { return c.variable }

// MemStoreCommand writes a value into a memory-mapped hardware parameter
// register of the cell. The store-placement pass generates these; programs
// can also issue them directly.
type MemStoreCommand struct {
	commandMeta
	cell  *Cell
	addr  uint32
	value Expression
}

// NewMemStore builds a memory parameter store outside the job command
// flow, for insertion by analysis passes.
func NewMemStore(cell *Cell, addr uint32, value Expression) *MemStoreCommand {
	c := &MemStoreCommand{cell: cell, addr: addr, value: value}
	c.cells.add(cell)
	c.vars.addAll(value.ContainedVariables())
	return c
}

// Cell returns the written cell.
func (c *MemStoreCommand) Cell() *Cell { return c.cell }

// Addr returns the parameter register address.
func (c *MemStoreCommand) Addr() uint32 { return c.addr }

// Value returns the stored expression.
func (c *MemStoreCommand) Value() Expression { return c.value }

// AsmCommand splices one hand-built instruction into the cell's stream.
// The cycle count keeps the synchronization accounting honest.
type AsmCommand struct {
	commandMeta
	cell        *Cell
	instruction isa.Instruction
	cycles      int
}

// Cell returns the cell receiving the instruction.
func (c *AsmCommand) Cell() *Cell { return c.cell }

// Instruction returns the spliced instruction.
func (c *AsmCommand) Instruction() isa.Instruction { return c.instruction }

// Cycles returns how many cycles the instruction runs for.
func (c *AsmCommand) Cycles() int { return c.cycles }

// SyncCommand aligns the instruction streams of several cells.
type SyncCommand struct {
	commandMeta
}

// Cells returns the synchronized cells.
func (c *SyncCommand) Cells() []*Cell { return c.cells.cells }

// IfCommand branches on a condition. The else body may be empty.
type IfCommand struct {
	commandMeta
	condition *Condition
	body      []Command
	elseBody  []Command
	elseSet   bool
}

// Condition returns the branch condition.
func (c *IfCommand) Condition() *Condition { return c.condition }

// Body returns the commands run when the condition holds.
func (c *IfCommand) Body() []Command { return c.body }

// ElseBody returns the commands run when the condition fails, empty
// without an else branch.
func (c *IfCommand) ElseBody() []Command { return c.elseBody }

// HasElse reports whether an else branch exists.
func (c *IfCommand) HasElse() bool { return c.elseSet || len(c.elseBody) > 0 }

// InsertBody places commands at position i of the if body.
func (c *IfCommand) InsertBody(i int, cmds ...Command) {
	c.body = insertCommands(c.body, i, cmds...)
}

// InsertElse places commands at position i of the else body.
func (c *IfCommand) InsertElse(i int, cmds ...Command) {
	c.elseBody = insertCommands(c.elseBody, i, cmds...)
}

// ForRangeCommand runs its body once per loop variable value, from start
// towards end (exclusive) in increments of step.
type ForRangeCommand struct {
	commandMeta
	variable *Variable
	start    Expression
	end      Expression
	step     Expression
	body     []Command
}

// Variable returns the loop control variable.
func (c *ForRangeCommand) Variable() *Variable { return c.variable }

// Start returns the first loop value.
func (c *ForRangeCommand) Start() Expression { return c.start }

// End returns the exclusive loop bound.
func (c *ForRangeCommand) End() Expression { return c.end }

// Step returns the per-iteration increment.
func (c *ForRangeCommand) Step() Expression { return c.step }

// Body returns the loop body.
func (c *ForRangeCommand) Body() []Command { return c.body }

// InsertBody places commands at position i of the loop body.
func (c *ForRangeCommand) InsertBody(i int, cmds ...Command) {
	c.body = insertCommands(c.body, i, cmds...)
}

// ParallelCommand unites the pulses and waits of up to two bodies into one
// overlapped trigger sequence.
type ParallelCommand struct {
	commandMeta
	entries [][]Command
}

// Entries returns the parallel bodies in program order.
func (c *ParallelCommand) Entries() [][]Command { return c.entries }

// Body returns all commands of all entries, flattened in program order.
func (c *ParallelCommand) Body() []Command {
	var out []Command
	for _, entry := range c.entries {
		out = append(out, entry...)
	}
	return out
}

func (c *ParallelCommand) appendEntry(body []Command) {
	c.entries = append(c.entries, body)
	for _, cmd := range body {
		c.vars.addAll(cmd.Variables())
	}
}

func insertCommands(body []Command, i int, cmds ...Command) []Command {
	out := make([]Command, 0, len(body)+len(cmds))
	out = append(out, body[:i]...)
	out = append(out, cmds...)
	out = append(out, body[i:]...)
	return out
}

// playLength returns the trigger length expression of a pulse-playing
// command, nil for anything else.
func playLength(cmd Command) Expression {
	switch c := cmd.(type) {
	case *PlayCommand:
		return c.length
	case *PlayReadoutCommand:
		return c.length
	case *PlayFluxCommand:
		return c.length
	case *RotateFrameCommand:
		return c.length
	}
	return nil
}

// ExcludeVariable rebuilds the command list without the pulses, waits and
// assignments that only exist to apply v. Unrolling a loop iteration where
// v is zero uses this: a zero-length pulse or wait emits nothing, so the
// surviving commands are the iteration's entire effect. Structured
// commands are rebuilt with filtered bodies and dropped when nothing
// remains.
func ExcludeVariable(cmds []Command, v *Variable) []Command {
	var out []Command
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *PlayCommand:
			if c.usesVariable(v) {
				continue
			}
			out = append(out, c)

		case *PlayFluxCommand:
			if c.usesVariable(v) {
				continue
			}
			out = append(out, c)

		case *PlayReadoutCommand:
			if c.usesVariable(v) {
				// The readout vanishes but its recording still happens.
				if c.recording != nil {
					out = append(out, c.recording)
				}
				continue
			}
			out = append(out, c)

		case *WaitCommand:
			if lv, ok := c.length.(*Variable); ok && lv.id == v.id {
				continue
			}
			out = append(out, c)

		case *AssignCommand:
			if c.variable.id == v.id {
				continue
			}
			out = append(out, c)

		case *DeclareCommand:
			if c.variable.id == v.id {
				continue
			}
			out = append(out, c)

		case *IfCommand:
			body := ExcludeVariable(c.body, v)
			elseBody := ExcludeVariable(c.elseBody, v)
			if len(body) == 0 && len(elseBody) == 0 {
				continue
			}
			nc := &IfCommand{condition: c.condition, body: body, elseBody: elseBody}
			nc.cells.addAll(c.cells.cells)
			nc.vars.addAll(c.vars.vars)
			out = append(out, nc)

		case *ForRangeCommand:
			body := ExcludeVariable(c.body, v)
			if len(body) == 0 {
				continue
			}
			nc := &ForRangeCommand{variable: c.variable, start: c.start, end: c.end, step: c.step, body: body}
			nc.cells.addAll(c.cells.cells)
			nc.vars.addAll(c.vars.vars)
			out = append(out, nc)

		case *ParallelCommand:
			nc := &ParallelCommand{}
			nc.cells.addAll(c.cells.cells)
			nc.vars.addAll(c.vars.vars)
			for _, entry := range c.entries {
				if filtered := ExcludeVariable(entry, v); len(filtered) > 0 {
					nc.entries = append(nc.entries, filtered)
				}
			}
			if len(nc.entries) == 0 {
				continue
			}
			out = append(out, nc)

		default:
			out = append(out, cmd)
		}
	}
	return out
}

// SingleCycleVariant rebuilds the command list replacing every trigger
// whose length is v with a single-cycle trigger. Unrolling a loop
// iteration where v is one cycle uses this: the trigger still fires, but
// its length is known, so no register wait is needed.
func SingleCycleVariant(cmds []Command, v *Variable) []Command {
	oneCycle := func() Expression { return newTypedConstant(newFloatConstant(units.ControllerCycleTime), TypeTime) }

	out := make([]Command, 0, len(cmds))
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *PlayCommand:
			if !c.usesVariable(v) {
				out = append(out, c)
				continue
			}
			nc := *c
			nc.length = oneCycle()
			nc.varSingleCycle = true
			out = append(out, &nc)

		case *PlayReadoutCommand:
			if !c.usesVariable(v) {
				out = append(out, c)
				continue
			}
			nc := *c
			nc.length = oneCycle()
			nc.varSingleCycle = true
			if c.recording != nil {
				rec := *c.recording
				nc.recording = &rec
			}
			out = append(out, &nc)

		case *PlayFluxCommand:
			if !c.usesVariable(v) {
				out = append(out, c)
				continue
			}
			nc := *c
			nc.length = oneCycle()
			out = append(out, &nc)

		case *IfCommand:
			nc := &IfCommand{
				condition: c.condition,
				body:      SingleCycleVariant(c.body, v),
				elseBody:  SingleCycleVariant(c.elseBody, v),
			}
			nc.cells.addAll(c.cells.cells)
			nc.vars.addAll(c.vars.vars)
			out = append(out, nc)

		case *ForRangeCommand:
			nc := &ForRangeCommand{
				variable: c.variable, start: c.start, end: c.end, step: c.step,
				body: SingleCycleVariant(c.body, v),
			}
			nc.cells.addAll(c.cells.cells)
			nc.vars.addAll(c.vars.vars)
			out = append(out, nc)

		case *ParallelCommand:
			nc := &ParallelCommand{}
			nc.cells.addAll(c.cells.cells)
			nc.vars.addAll(c.vars.vars)
			for _, entry := range c.entries {
				nc.entries = append(nc.entries, SingleCycleVariant(entry, v))
			}
			out = append(out, nc)

		default:
			out = append(out, cmd)
		}
	}
	return out
}
