package sequencer

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/units"
)

// Options configure program generation.
type Options struct {
	// SkipNCOSync drops the oscillator alignment at program start.
	SkipNCOSync bool

	// NCOSyncDelay is the settling time waited after the oscillator sync.
	NCOSyncDelay float64
}

// Program is the generated machine program of one cell.
type Program struct {
	Cell         *qicode.Cell
	CellIndex    int
	Instructions []isa.Instruction
	ForRanges    []*ForRangeEntry
	Registers    map[*qicode.Variable]int
	Diagnostics  []qicode.Diagnostic
}

// Words encodes the program into its binary form.
func (p *Program) Words() []uint32 {
	words := make([]uint32, len(p.Instructions))
	for i, in := range p.Instructions {
		words[i] = in.Encode()
	}
	return words
}

// Listing renders the program as annotated assembly.
func (p *Program) Listing() []string {
	lines := make([]string, len(p.Instructions))
	for i, in := range p.Instructions {
		lines[i] = fmt.Sprintf("%d: %s", i, in)
	}
	return lines
}

// loopEnd tells inner loops which variables enclosing loops still sweep.
type loopEnd struct {
	variable *qicode.Variable
	end      qicode.Expression
}

type builder struct {
	cells    []*qicode.Cell
	seqs     map[*qicode.Cell]*Sequencer
	hw       map[*qicode.Cell]int
	ifDepth  int
	loopEnds []loopEnd
}

// Build lowers a sealed command list into one program per cell. cellMap
// assigns each cell index its digital unit.
func Build(cells []*qicode.Cell, cellMap []int, commands []qicode.Command, opts Options) ([]*Program, error) {
	b := &builder{
		cells: cells,
		seqs:  make(map[*qicode.Cell]*Sequencer, len(cells)),
		hw:    make(map[*qicode.Cell]int, len(cells)),
	}
	for _, cell := range cells {
		if cell.Index() < 0 || cell.Index() >= len(cellMap) {
			return nil, &qicode.Error{
				Code:    qicode.CodeCellMapInvalid,
				Message: fmt.Sprintf("the cell map assigns no digital unit to cell %d", cell.Index()),
				Cell:    cell.Name(),
			}
		}
		unit := cellMap[cell.Index()]
		b.hw[cell] = unit
		seq := New(cell.Name(), unit)
		b.seqs[cell] = seq
		if !opts.SkipNCOSync {
			seq.addNCOSync(opts.NCOSyncDelay)
		}
	}
	for _, cmd := range commands {
		b.command(cmd)
		if err := b.firstErr(); err != nil {
			return nil, err
		}
	}
	for _, cell := range cells {
		b.seqs[cell].endOfProgram()
	}
	if err := b.firstErr(); err != nil {
		return nil, err
	}
	programs := make([]*Program, len(cells))
	for i, cell := range cells {
		seq := b.seqs[cell]
		registers := make(map[*qicode.Variable]int, len(seq.vars))
		for v, r := range seq.vars {
			registers[v] = r.addr
		}
		programs[i] = &Program{
			Cell:         cell,
			CellIndex:    b.hw[cell],
			Instructions: seq.Instructions(),
			ForRanges:    seq.ForRanges(),
			Registers:    registers,
			Diagnostics:  seq.Diagnostics(),
		}
	}
	return programs, nil
}

func (b *builder) firstErr() error {
	for _, cell := range b.cells {
		if err := b.seqs[cell].Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) stopped() bool { return b.firstErr() != nil }

// relevantCells filters the builder's cells down to the ones the command
// touches, preserving cell order so all sequencers are driven in the same
// order.
func (b *builder) relevantCells(cmd qicode.Command) []*qicode.Cell {
	relevant := cmd.RelevantCells()
	cells := make([]*qicode.Cell, 0, len(relevant))
	for _, cell := range b.cells {
		for _, r := range relevant {
			if r == cell {
				cells = append(cells, cell)
				break
			}
		}
	}
	return cells
}

func (b *builder) eachRelevant(cmd qicode.Command, fn func(seq *Sequencer)) {
	for _, cell := range b.relevantCells(cmd) {
		fn(b.seqs[cell])
	}
}

func (b *builder) command(cmd qicode.Command) {
	if b.stopped() {
		return
	}
	switch c := cmd.(type) {
	case *qicode.DeclareCommand:
		b.eachRelevant(c, func(seq *Sequencer) { seq.addVariable(c.Variable()) })
	case *qicode.AssignCommand:
		b.assign(c)
	case *qicode.WaitCommand:
		b.wait(c)
	case *qicode.PlayCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addTriggerCmd(triggerSpec{
				manipulation:   &playSpec{index: c.TableIndex(), length: c.Length()},
				varSingleCycle: c.VarSingleCycle(),
			})
		})
	case *qicode.RotateFrameCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addTriggerCmd(triggerSpec{
				manipulation: &playSpec{index: c.TableIndex(), length: c.Length()},
			})
		})
	case *qicode.PlayReadoutCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addTriggerCmd(triggerSpec{
				readout:        &playSpec{index: c.TableIndex(), length: c.Length()},
				recording:      c.Recording(),
				varSingleCycle: c.VarSingleCycle(),
			})
		})
	case *qicode.RecordingCommand:
		if c.FollowsReadout() {
			return
		}
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addTriggerCmd(triggerSpec{recording: c})
		})
	case *qicode.PlayFluxCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			var spec triggerSpec
			spec.coupler[c.Coupler().CouplingIndex()] = &playSpec{index: c.TableIndex(), length: c.Length()}
			seq.addTriggerCmd(spec)
		})
	case *qicode.DigitalTriggerCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addTriggerCmd(triggerSpec{
				digital: &playSpec{index: c.TableIndex(), length: c.Length()},
			})
		})
	case *qicode.SyncCommand:
		b.sync(c)
	case *qicode.IfCommand:
		b.ifElse(c)
	case *qicode.ParallelCommand:
		b.parallel(c)
	case *qicode.ForRangeCommand:
		b.forRange(c)
	case *qicode.AsmCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addTimed(c.Instruction(), int64(c.Cycles()), true)
		})
	case *qicode.MemStoreCommand:
		b.eachRelevant(c, func(seq *Sequencer) {
			seq.addStoreCmd(c.Value(), nil, int32(c.Addr()))
		})
	}
}

// body lowers a nested command list and chokes pulses left playing when it
// closes.
func (b *builder) body(cmds []qicode.Command, cells []*qicode.Cell) {
	for _, cmd := range cmds {
		b.command(cmd)
	}
	for _, cell := range cells {
		b.seqs[cell].endOfBody()
	}
}

// wait drops constant waits rounding to zero cycles entirely.
func (b *builder) wait(c *qicode.WaitCommand) {
	if cst, ok := c.Length().(*qicode.Constant); ok {
		if units.TimeToCycles(cst.GivenValue(), units.RoundNearest) == 0 {
			return
		}
	}
	b.eachRelevant(c, func(seq *Sequencer) { seq.addWaitCmd(c.Length()) })
}

// assign writes a value into a variable's register on every cell that uses
// the variable. Assignments inside branches leave the shadow value timing
// nondeterministic.
func (b *builder) assign(c *qicode.AssignCommand) {
	for _, cell := range b.relevantCells(c) {
		seq := b.seqs[cell]
		dst := seq.varRegister(c.Variable())
		switch v := c.Value().(type) {
		case *qicode.Calc:
			reg := seq.addCalc(v)
			seq.moveRegister(dst, reg)
			dst.valid = reg.valid && b.ifDepth == 0
			seq.releaseRegister(reg)
		case *qicode.Variable:
			src := seq.varRegister(v)
			seq.moveRegister(dst, src)
			dst.valid = src.valid && b.ifDepth == 0
		default:
			if val, ok := seq.constValue(c.Value()); ok {
				seq.immediateToRegister(val, dst)
				dst.valid = b.ifDepth == 0
			}
		}
	}
}

func (b *builder) sync(c *qicode.SyncCommand) {
	selected := c.Cells()
	if len(selected) == 0 {
		selected = b.cells
	}
	cells := make([]*qicode.Cell, 0, len(selected))
	for _, cell := range b.cells {
		for _, sel := range selected {
			if sel == cell {
				cells = append(cells, cell)
				break
			}
		}
	}
	b.syncCells(cells, syncPoint{syncCommand, c})
}

// syncCells brings the cells into lockstep. When every cell counts cycles
// from the same point the shorter programs are padded with waits, otherwise
// the hardware synchronisation instruction is used.
func (b *builder) syncCells(cells []*qicode.Cell, at syncPoint) {
	if len(cells) <= 1 {
		return
	}
	if !b.implicitlySynchronizable(cells) {
		b.forceSync(cells, at)
		return
	}
	var longest int64
	for _, cell := range cells {
		if c := b.seqs[cell].progCycles(); c > longest {
			longest = c
		}
	}
	for _, cell := range cells {
		seq := b.seqs[cell]
		if c := seq.progCycles(); c < longest {
			seq.waitCycles(longest - c)
		}
	}
}

func (b *builder) implicitlySynchronizable(cells []*qicode.Cell) bool {
	first := b.seqs[cells[0]].cycles.point
	for _, cell := range cells {
		seq := b.seqs[cell]
		if !seq.cycles.valid || seq.cycles.point != first {
			return false
		}
	}
	return true
}

func (b *builder) forceSync(cells []*qicode.Cell, at syncPoint) {
	hw := make([]int, len(cells))
	for i, cell := range cells {
		hw[i] = b.hw[cell]
	}
	for _, cell := range cells {
		seq := b.seqs[cell]
		seq.add(isa.NewCellSync(hw))
		seq.cycles.synchronize(at)
	}
}

// ifElse lowers a conditional. The branch jumps over the body when the
// condition does not hold, with an else body reached through an extra
// jump. Which path runs is unknown at compile time, so the cycle counts
// stop being deterministic.
func (b *builder) ifElse(c *qicode.IfCommand) {
	cells := b.relevantCells(c)
	b.syncCells(cells, syncPoint{syncBeforeIf, c})
	b.ifDepth++
	branches := make(map[*qicode.Cell]*isa.Branch, len(cells))
	pcs := make(map[*qicode.Cell]int, len(cells))
	for _, cell := range cells {
		seq := b.seqs[cell]
		branches[cell] = seq.addIfCondition(c.Condition())
		seq.cycles.valid = false
		pcs[cell] = seq.Size() - 1
	}
	b.body(c.Body(), cells)
	if c.HasElse() {
		jumps := make(map[*qicode.Cell]*isa.Jump, len(cells))
		for _, cell := range cells {
			seq := b.seqs[cell]
			jumps[cell] = seq.addJump(0)
			branches[cell].SetJumpValue(int32(seq.Size() - pcs[cell]))
			pcs[cell] = seq.Size() - 1
		}
		b.body(c.ElseBody(), cells)
		for _, cell := range cells {
			jumps[cell].SetJumpValue(int32(b.seqs[cell].Size() - pcs[cell]))
		}
	} else {
		for _, cell := range cells {
			branches[cell].SetJumpValue(int32(b.seqs[cell].Size() - pcs[cell]))
		}
	}
	b.ifDepth--
}

func (b *builder) stepOf(c *qicode.ForRangeCommand) int32 {
	if cst, ok := c.Step().(*qicode.Constant); ok {
		return cst.Value()
	}
	return 0
}

// forRange picks the lowering strategy. Plain counters loop directly.
// Time and frequency sweeps need their sub cycle start values peeled off
// into unrolled bodies, because a pulse of less than one cycle cannot be
// played by the loop's generic body.
func (b *builder) forRange(c *qicode.ForRangeCommand) {
	cells := b.relevantCells(c)
	if len(cells) == 0 {
		return
	}
	if c.Variable().Type() == qicode.TypeNormal {
		b.lowerLoop(c, c.Start(), c.End(), cells, false)
		return
	}
	_, startVar := c.Start().(*qicode.Variable)
	_, endVar := c.End().(*qicode.Variable)
	step := b.stepOf(c)
	switch {
	case startVar && step > 0:
		b.lowerVariableTimeLoop(c, cells)
	case (startVar || endVar) && step < 0:
		b.lowerDecrementTimeLoop(c, cells)
	default:
		b.lowerStaticTimeLoop(c, cells)
	}
}

// recordedEnd substitutes the end bound of an enclosing loop when an inner
// loop sweeps up to that loop's variable, so the progress estimate has a
// usable bound.
func (b *builder) recordedEnd(end qicode.Expression) qicode.Expression {
	if v, ok := end.(*qicode.Variable); ok {
		for _, le := range b.loopEnds {
			if le.variable == v {
				return le.end
			}
		}
	}
	return end
}

// lowerLoop emits head, body and back jump of one loop. With peelLast the
// loop exits early once the variable reaches one cycle, falling through
// into the single cycle unroll the caller emits next.
func (b *builder) lowerLoop(c *qicode.ForRangeCommand, start, end qicode.Expression, cells []*qicode.Cell, peelLast bool) {
	step := b.stepOf(c)
	b.syncCells(cells, syncPoint{syncBeforeForRange, c})

	branches := make(map[*qicode.Cell]*isa.Branch, len(cells))
	pcs := make(map[*qicode.Cell]int, len(cells))
	cyclesAt := make(map[*qicode.Cell]int64, len(cells))
	endRegs := make(map[*qicode.Cell]*register, len(cells))

	for _, cell := range cells {
		seq := b.seqs[cell]
		seq.registerForRange(c.Variable(), start, b.recordedEnd(end), step)
		if ev, ok := end.(*qicode.Variable); ok {
			endRegs[cell] = seq.varRegister(ev)
		} else if val, ok := seq.constValue(end); ok {
			endRegs[cell] = seq.immediateToRegister(val, nil)
		} else {
			endRegs[cell] = seq.reg0
		}
		branches[cell] = seq.addForRangeHead(c.Variable(), start, endRegs[cell], step)
		cyclesAt[cell] = seq.progCycles() - 1
		pcs[cell] = seq.Size() - 1
	}

	b.loopEnds = append(b.loopEnds, loopEnd{c.Variable(), end})
	b.body(c.Body(), cells)
	b.loopEnds = b.loopEnds[:len(b.loopEnds)-1]

	b.trySyncLoop(c, start, cells)

	for _, cell := range cells {
		seq := b.seqs[cell]
		varReg := seq.varRegister(c.Variable())
		seq.addCalculation(regOp(varReg), isa.OpPlus, immOp(step), varReg)
		if peelLast {
			one := seq.immediateToRegister(1, nil)
			seq.addBranch(isa.CondEQ, varReg, one, 2)
			seq.releaseRegister(one)
		}
		seq.addJump(int32(pcs[cell] - seq.Size()))
		branches[cell].SetJumpValue(int32(seq.Size() - pcs[cell]))
		varReg.value, varReg.known = endRegs[cell].value, endRegs[cell].known
		if _, ok := end.(*qicode.Variable); !ok {
			seq.releaseRegister(endRegs[cell])
		}
		seq.exitForRange()
	}

	b.updateCyclesAfterLoop(c, start, end, cyclesAt, cells)
}

// unrollZero emits the zero iteration of a time sweep with every command
// depending on the variable removed, a zero length pulse is no pulse.
func (b *builder) unrollZero(c *qicode.ForRangeCommand, cells []*qicode.Cell, static bool) {
	body := qicode.ExcludeVariable(c.Body(), c.Variable())
	if len(body) == 0 {
		return
	}
	step := b.stepOf(c)
	for _, cell := range cells {
		seq := b.seqs[cell]
		if static {
			seq.setVariableValue(c.Variable(), qicode.NormalValue(0))
		}
		seq.registerForRange(c.Variable(), qicode.NormalValue(0), qicode.NormalValue(int(step)), step)
	}
	b.body(body, cells)
	for _, cell := range cells {
		b.seqs[cell].exitForRange()
	}
}

// unrollOne emits the one cycle iteration with variable length pulses
// replaced by their single cycle variants.
func (b *builder) unrollOne(c *qicode.ForRangeCommand, cells []*qicode.Cell) {
	body := qicode.SingleCycleVariant(c.Body(), c.Variable())
	step := b.stepOf(c)
	for _, cell := range cells {
		b.seqs[cell].registerForRange(c.Variable(), qicode.NormalValue(1), qicode.NormalValue(int(1+step)), step)
	}
	b.body(body, cells)
	for _, cell := range cells {
		b.seqs[cell].exitForRange()
	}
}

// lowerStaticTimeLoop sweeps a time or frequency variable between constant
// bounds. The zero and one cycle iterations are peeled off the front, and
// when the statically computed last iteration runs for exactly one cycle it
// is peeled off the back.
func (b *builder) lowerStaticTimeLoop(c *qicode.ForRangeCommand, cells []*qicode.Cell) {
	step := b.stepOf(c)
	startRaw, ok := staticExprValue(c.Start())
	if !ok {
		b.seqs[cells[0]].constValue(c.Start())
		return
	}
	endRaw, endKnown := staticExprValue(c.End())
	var endVal int32
	if endKnown {
		endVal = rangeEnd(startRaw, endRaw, step)
	}

	if b.noLoopsLeft(startRaw, c, cells) {
		return
	}
	if startRaw == 0 {
		b.syncCells(cells, syncPoint{syncUnrollZero, c})
		b.unrollZero(c, cells, true)
		startRaw += step
		if b.noLoopsLeft(startRaw, c, cells) {
			return
		}
	}
	if startRaw == 1 {
		b.syncCells(cells, syncPoint{syncUnrollOne, c})
		for _, cell := range cells {
			b.seqs[cell].setVariableValue(c.Variable(), qicode.NormalValue(1))
		}
		b.unrollOne(c, cells)
		startRaw += step
		if b.noLoopsLeft(startRaw, c, cells) {
			return
		}
	}

	_, endIsVar := c.End().(*qicode.Variable)
	peel := endKnown && !endIsVar && endVal-step == 1
	end := c.End()
	if !endIsVar && endKnown {
		v := endVal
		if peel {
			v -= step
		}
		end = qicode.NormalValue(int(v))
	}
	b.lowerLoop(c, qicode.NormalValue(int(startRaw)), end, cells, false)
	if peel {
		b.unrollOne(c, cells)
	}
}

// lowerVariableTimeLoop sweeps upwards from a runtime start value. Guards
// skip the unrolled zero and one cycle iterations when the start lies
// beyond them, then the generic loop covers the rest.
func (b *builder) lowerVariableTimeLoop(c *qicode.ForRangeCommand, cells []*qicode.Cell) {
	oneCycle := qicode.TimeValue(units.CyclesToTime(1))
	step := b.stepOf(c)

	b.syncCells(cells, syncPoint{syncUnrollZero, c})
	guards := make(map[*qicode.Cell]*isa.Branch, len(cells))
	pcs := make(map[*qicode.Cell]int, len(cells))
	for _, cell := range cells {
		seq := b.seqs[cell]
		seq.setVariableValue(c.Variable(), c.Start())
		guards[cell] = seq.addIfCondition(qicode.Eq(c.Variable(), qicode.TimeValue(0)))
		pcs[cell] = seq.Size() - 1
	}
	b.unrollZero(c, cells, false)

	b.syncCells(cells, syncPoint{syncUnrollOne, c})
	for _, cell := range cells {
		seq := b.seqs[cell]
		varReg := seq.varRegister(c.Variable())
		seq.addCalculation(regOp(varReg), isa.OpPlus, immOp(step), varReg)
		guards[cell].SetJumpValue(int32(seq.Size() - pcs[cell]))
		guards[cell] = seq.addIfCondition(qicode.Eq(c.Variable(), oneCycle))
		pcs[cell] = seq.Size() - 1
	}
	b.unrollOne(c, cells)

	for _, cell := range cells {
		seq := b.seqs[cell]
		varReg := seq.varRegister(c.Variable())
		seq.addCalculation(regOp(varReg), isa.OpPlus, immOp(step), varReg)
		guards[cell].SetJumpValue(int32(seq.Size() - pcs[cell]))
		guards[cell] = seq.addIfCondition(qicode.Gt(c.Variable(), oneCycle))
		pcs[cell] = seq.Size() - 1
	}
	b.lowerLoop(c, c.Variable(), c.End(), cells, false)
	for _, cell := range cells {
		guards[cell].SetJumpValue(int32(b.seqs[cell].Size() - pcs[cell]))
	}
}

// lowerDecrementTimeLoop sweeps downwards with a runtime bound. The
// generic loop exits once the variable falls to one cycle and a guarded
// single cycle unroll finishes the sweep.
func (b *builder) lowerDecrementTimeLoop(c *qicode.ForRangeCommand, cells []*qicode.Cell) {
	oneCycle := qicode.TimeValue(units.CyclesToTime(1))
	guards := make(map[*qicode.Cell]*isa.Branch, len(cells))
	pcs := make(map[*qicode.Cell]int, len(cells))
	for _, cell := range cells {
		seq := b.seqs[cell]
		seq.setVariableValue(c.Variable(), c.Start())
		guards[cell] = seq.addIfCondition(qicode.Gt(c.Variable(), oneCycle))
		pcs[cell] = seq.Size() - 1
	}
	b.lowerLoop(c, c.Start(), c.End(), cells, true)

	b.syncCells(cells, syncPoint{syncUnrollOne, c})
	second := make(map[*qicode.Cell]*isa.Branch, len(cells))
	secondPCs := make(map[*qicode.Cell]int, len(cells))
	for _, cell := range cells {
		seq := b.seqs[cell]
		guards[cell].SetJumpValue(int32(seq.Size() - pcs[cell]))
		guards[cell] = seq.addIfCondition(qicode.Eq(c.Variable(), oneCycle))
		pcs[cell] = seq.Size() - 1
		second[cell] = seq.addIfCondition(qicode.Gt(c.Variable(), c.End()))
		secondPCs[cell] = seq.Size() - 1
	}
	b.unrollOne(c, cells)
	for _, cell := range cells {
		seq := b.seqs[cell]
		guards[cell].SetJumpValue(int32(seq.Size() - pcs[cell]))
		second[cell].SetJumpValue(int32(seq.Size() - secondPCs[cell]))
	}
}

// staticExprValue resolves constants and resolved cell properties without
// touching a sequencer.
func staticExprValue(e qicode.Expression) (int32, bool) {
	switch x := e.(type) {
	case *qicode.Constant:
		return x.Value(), true
	case *qicode.CellProperty:
		v, err := x.Value()
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// loopValue resolves a loop bound. A variable bound counts as resolved
// only when its shadow value agrees on every cell.
func (b *builder) loopValue(e qicode.Expression, cells []*qicode.Cell) (int32, bool) {
	if v, ok := e.(*qicode.Variable); ok {
		var val int32
		seen := false
		for _, cell := range cells {
			cur, known := b.seqs[cell].varShadow(v)
			if !known {
				return 0, false
			}
			if seen && cur != val {
				return 0, false
			}
			val, seen = cur, true
		}
		return val, seen
	}
	return staticExprValue(e)
}

// endValueRising reports whether a variable end bound can still grow, which
// is the case when an enclosing loop sweeps it.
func (b *builder) endValueRising(end qicode.Expression, endKnown bool) bool {
	v, ok := end.(*qicode.Variable)
	if !ok {
		return false
	}
	for _, le := range b.loopEnds {
		if le.variable == v || !endKnown {
			return true
		}
	}
	return false
}

// noLoopsLeft reports whether a sweep starting at start has no iterations
// left.
func (b *builder) noLoopsLeft(start int32, c *qicode.ForRangeCommand, cells []*qicode.Cell) bool {
	endVal, endKnown := b.loopValue(c.End(), cells)
	if b.endValueRising(c.End(), endKnown) {
		return false
	}
	if !endKnown {
		return false
	}
	return rangeIterations(start, endVal, b.stepOf(c)) == 0
}

// trySyncLoop brings the cells back into lockstep before the loop jumps
// back. Bodies whose waits and pulses depend on the loop variable are
// balanced by count, every cell must execute the same number of variable
// waits per iteration.
func (b *builder) trySyncLoop(c *qicode.ForRangeCommand, start qicode.Expression, cells []*qicode.Cell) {
	if len(cells) <= 1 {
		return
	}
	at := syncPoint{syncAfterIteration, c}
	found := findVarCommands(c.Body(), c.Variable())
	if len(found.cmds) == 0 {
		b.syncCells(cells, at)
		return
	}
	if found.calcInWait {
		b.forceSync(cells, at)
		return
	}
	if _, ok := start.(*qicode.Variable); ok {
		b.forceSync(cells, at)
		return
	}
	startVal, ok := staticExprValue(start)
	if !ok {
		b.forceSync(cells, at)
		return
	}

	counts := make([]int, len(cells))
	lengths := make([]int64, len(cells))
	for i, cell := range cells {
		counts[i] = found.countFor(cell)
		lengths[i] = b.seqs[cell].progCycles() - int64(startVal)*int64(counts[i])
	}
	for _, l := range lengths {
		if l < 0 {
			b.forceSync(cells, at)
			return
		}
	}
	var longest int64
	mostWaits := 0
	for i := range cells {
		if lengths[i] > longest {
			longest = lengths[i]
		}
		if counts[i] > mostWaits {
			mostWaits = counts[i]
		}
	}
	for i, cell := range cells {
		seq := b.seqs[cell]
		if lengths[i] < longest {
			seq.waitCycles(longest - lengths[i])
		}
		for n := counts[i]; n < mostWaits; n++ {
			seq.addWaitRegister(c.Variable())
		}
	}
}

// updateCyclesAfterLoop scales the cycles of the single lowered iteration
// up to the whole sweep. start and end are the bounds the emitted loop
// actually runs over, which the unroll strategies may have adjusted.
// Runtime bounds leave the count nondeterministic.
func (b *builder) updateCyclesAfterLoop(c *qicode.ForRangeCommand, start, end qicode.Expression, cyclesAt map[*qicode.Cell]int64, cells []*qicode.Cell) {
	endVal, endKnown := b.loopValue(end, cells)
	_, startIsVar := start.(*qicode.Variable)
	_, endIsVar := end.(*qicode.Variable)
	var startVal int32
	startKnown := false
	if !startIsVar {
		startVal, startKnown = staticExprValue(start)
	}
	if startIsVar || endIsVar || !startKnown || !endKnown {
		for _, cell := range cells {
			b.seqs[cell].cycles.valid = false
		}
		return
	}
	step := b.stepOf(c)
	found := findVarCommands(c.Body(), c.Variable())
	iterations := rangeIterations(startVal, endVal, step)
	for _, cell := range cells {
		seq := b.seqs[cell]
		if seq.progCycles() < 0 {
			continue
		}
		if len(found.cmds) == 0 {
			seq.cycles.cycles += (seq.cycles.cycles-cyclesAt[cell])*(iterations-1) + jumpCycles
			continue
		}
		if found.calcInWait {
			seq.cycles.valid = false
			continue
		}
		waits := int64(found.waitsFor(cell))
		plays := int64(found.playsFor(cell))
		grown := (seq.cycles.cycles-int64(startVal)*(waits+plays)-plays-cyclesAt[cell])*(iterations-1) + jumpCycles
		rest := rangeIterations(startVal+step, endVal, step)
		for i := int64(0); i < rest; i++ {
			val := int64(startVal) + int64(step)*(i+1)
			grown += val*(waits+plays) + plays
		}
		seq.cycles.cycles += grown
	}
}

// varCommands lists the body commands whose timing depends on the loop
// variable.
type varCommands struct {
	cmds       []qicode.Command
	calcInWait bool
}

func findVarCommands(body []qicode.Command, v *qicode.Variable) *varCommands {
	f := &varCommands{}
	f.walk(body, v)
	return f
}

func (f *varCommands) walk(body []qicode.Command, v *qicode.Variable) {
	for _, cmd := range body {
		switch c := cmd.(type) {
		case *qicode.WaitCommand:
			if lv, ok := c.Length().(*qicode.Variable); ok && lv == v {
				f.cmds = append(f.cmds, c)
			} else if exprUses(c.Length(), v) {
				f.cmds = append(f.cmds, c)
				f.calcInWait = true
			}
		case *qicode.PlayCommand:
			if exprUses(c.Length(), v) {
				f.cmds = append(f.cmds, c)
			}
		case *qicode.PlayReadoutCommand:
			if exprUses(c.Length(), v) {
				f.cmds = append(f.cmds, c)
			}
		case *qicode.RotateFrameCommand:
			if exprUses(c.Length(), v) {
				f.cmds = append(f.cmds, c)
			}
		case *qicode.PlayFluxCommand:
			if exprUses(c.Length(), v) {
				f.cmds = append(f.cmds, c)
			}
		case *qicode.DigitalTriggerCommand:
			if exprUses(c.Length(), v) {
				f.cmds = append(f.cmds, c)
			}
		case *qicode.IfCommand:
			f.walk(c.Body(), v)
			f.walk(c.ElseBody(), v)
		case *qicode.ForRangeCommand:
			f.walk(c.Body(), v)
		}
	}
}

func (f *varCommands) countFor(cell *qicode.Cell) int {
	n := 0
	for _, cmd := range f.cmds {
		if commandTouches(cmd, cell) {
			n++
		}
	}
	return n
}

func (f *varCommands) waitsFor(cell *qicode.Cell) int {
	n := 0
	for _, cmd := range f.cmds {
		if _, ok := cmd.(*qicode.WaitCommand); ok && commandTouches(cmd, cell) {
			n++
		}
	}
	return n
}

func (f *varCommands) playsFor(cell *qicode.Cell) int {
	n := 0
	for _, cmd := range f.cmds {
		if _, ok := cmd.(*qicode.WaitCommand); !ok && commandTouches(cmd, cell) {
			n++
		}
	}
	return n
}

func commandTouches(cmd qicode.Command, cell *qicode.Cell) bool {
	for _, rc := range cmd.RelevantCells() {
		if rc == cell {
			return true
		}
	}
	return false
}

func exprUses(e qicode.Expression, v *qicode.Variable) bool {
	if e == nil {
		return false
	}
	for _, cv := range e.ContainedVariables() {
		if cv == v {
			return true
		}
	}
	return false
}
