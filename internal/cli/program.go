package cli

import (
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// jobWalker replays a CUE program list against the job builder. The
// first description error stops the walk; builder errors stay inside
// the job and surface from the compile.
type jobWalker struct {
	job      *qicode.Job
	cells    []*qicode.Cell
	couplers []*qicode.Coupler
	vars     map[string]*qicode.Variable
	err      error
}

func (w *jobWalker) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *jobWalker) failf(pos token.Pos, format string, args ...any) {
	w.fail(loadErrorf(pos, format, args...))
}

// walk runs the top level program list.
func (w *jobWalker) walk(v cue.Value) {
	iter, err := v.List()
	if err != nil {
		w.fail(cueError(err))
		return
	}
	n := 0
	for iter.Next() {
		if w.err != nil {
			return
		}
		w.step(iter.Value())
		n++
	}
	if w.err == nil && n == 0 {
		w.failf(v.Pos(), "program needs at least one command")
	}
}

func (w *jobWalker) walkSteps(v cue.Value) {
	iter, err := v.List()
	if err != nil {
		w.fail(cueError(err))
		return
	}
	for iter.Next() {
		if w.err != nil {
			return
		}
		w.step(iter.Value())
	}
}

// blockOf defers a command list into a builder body closure.
func (w *jobWalker) blockOf(v cue.Value) func() {
	return func() { w.walkSteps(v) }
}

// step dispatches one program entry. Entries are single-field structs,
// the field name selects the command.
func (w *jobWalker) step(v cue.Value) {
	iter, err := v.Fields()
	if err != nil {
		w.failf(v.Pos(), "a program entry needs to be a command struct")
		return
	}
	var label string
	var body cue.Value
	n := 0
	for iter.Next() {
		label = iter.Label()
		body = iter.Value()
		n++
	}
	if n != 1 {
		w.failf(v.Pos(), "a program entry needs exactly one command, has %d", n)
		return
	}

	switch label {
	case "play":
		w.play(body, false)
	case "play_readout":
		w.play(body, true)
	case "play_flux":
		w.flux(body)
	case "rotate_frame":
		w.rotateFrame(body)
	case "wait":
		w.wait(body)
	case "recording":
		w.recording(body)
	case "digital_trigger":
		w.digitalTrigger(body)
	case "assign":
		w.assign(body)
	case "sync":
		w.sync(body)
	case "if":
		w.branch(body)
	case "for":
		w.forRange(body)
	case "parallel":
		w.parallel(body)
	default:
		w.failf(body.Pos(), "unknown command %q", label)
	}
}

func (w *jobWalker) cellIndex(pos token.Pos, idx int) *qicode.Cell {
	if idx < 0 || idx >= len(w.cells) {
		w.failf(pos, "cell %d is not in the job, have %d", idx, len(w.cells))
		return nil
	}
	return w.cells[idx]
}

func (w *jobWalker) cellAt(v cue.Value) *qicode.Cell {
	idx, ok, err := intField(v, "cell")
	if err != nil {
		w.fail(err)
		return nil
	}
	if !ok {
		w.failf(v.Pos(), "a cell-scoped command needs a cell")
		return nil
	}
	return w.cellIndex(v.Pos(), idx)
}

func (w *jobWalker) couplerAt(v cue.Value) *qicode.Coupler {
	idx, ok, err := intField(v, "coupler")
	if err != nil {
		w.fail(err)
		return nil
	}
	if !ok {
		w.failf(v.Pos(), "play_flux needs a coupler")
		return nil
	}
	if idx < 0 || idx >= len(w.couplers) {
		w.failf(v.Pos(), "coupler %d is not in the job, have %d", idx, len(w.couplers))
		return nil
	}
	return w.couplers[idx]
}

func (w *jobWalker) variable(pos token.Pos, name string) *qicode.Variable {
	v, ok := w.vars[name]
	if !ok {
		w.failf(pos, "variable %q is not declared", name)
	}
	return v
}

// operand resolves a command value. Numbers stay literal, int for whole
// values; strings reference variables (var:NAME) or, on cell-scoped
// commands, sample properties (prop:NAME).
func (w *jobWalker) operand(v cue.Value, cell *qicode.Cell) any {
	switch v.IncompleteKind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			w.fail(cueError(err))
			return nil
		}
		return int(n)
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			w.fail(cueError(err))
			return nil
		}
		return f
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			w.fail(cueError(err))
			return nil
		}
		kind, name, found := strings.Cut(s, ":")
		switch {
		case found && kind == "var":
			return w.variable(v.Pos(), name)
		case found && kind == "prop":
			if cell == nil {
				w.failf(v.Pos(), "prop:%s needs a cell-scoped command", name)
				return nil
			}
			return cell.Prop(name)
		}
		w.failf(v.Pos(), "value %q needs to be a number, var:NAME or prop:NAME", s)
		return nil
	}
	w.failf(v.Pos(), "a value needs to be a number, var:NAME or prop:NAME")
	return nil
}

func (w *jobWalker) play(v cue.Value, readout bool) {
	cell := w.cellAt(v)
	pulse := w.pulse(v, cell, true)
	if w.err != nil {
		return
	}
	if readout {
		w.job.PlayReadout(cell, pulse)
	} else {
		w.job.Play(cell, pulse)
	}
}

func (w *jobWalker) flux(v cue.Value) {
	coupler := w.couplerAt(v)
	pulse := w.pulse(v, nil, false)
	if w.err != nil {
		return
	}
	w.job.PlayFlux(coupler, pulse)
}

// pulse reads the pulse parameters of a command body. Amplitude,
// frequency and phase apply to cell pulses only, flux pulses carry
// shape and hold alone.
func (w *jobWalker) pulse(v cue.Value, cell *qicode.Cell, shaped bool) *qicode.Pulse {
	var opts []qicode.PulseOption
	shape, ok, err := stringField(v, "shape")
	if err != nil {
		w.fail(err)
		return nil
	}
	if ok {
		s, known := qicode.ShapeByName(shape)
		if !known {
			w.failf(v.Pos(), "unknown pulse shape %q", shape)
			return nil
		}
		opts = append(opts, qicode.WithShape(s))
	}
	if shaped {
		if f := v.LookupPath(cue.ParsePath("amplitude")); f.Exists() {
			opts = append(opts, qicode.WithAmplitude(w.operand(f, cell)))
		}
		if f := v.LookupPath(cue.ParsePath("frequency")); f.Exists() {
			opts = append(opts, qicode.WithFrequency(w.operand(f, cell)))
		}
		if f := v.LookupPath(cue.ParsePath("phase")); f.Exists() {
			opts = append(opts, qicode.WithPhase(w.operand(f, cell)))
		}
	}
	hold, _, err := boolField(v, "hold")
	if err != nil {
		w.fail(err)
		return nil
	}
	if hold {
		opts = append(opts, qicode.WithHold())
	}
	continuous, _, err := boolField(v, "continuous")
	if err != nil {
		w.fail(err)
		return nil
	}

	lengthVal := v.LookupPath(cue.ParsePath("length"))
	switch {
	case continuous && lengthVal.Exists():
		w.failf(v.Pos(), "a pulse needs either a length or continuous, not both")
		return nil
	case continuous:
		if w.err != nil {
			return nil
		}
		return qicode.ContinuousPulse(opts...)
	case !lengthVal.Exists():
		w.failf(v.Pos(), "a pulse needs either a length or continuous")
		return nil
	}
	length := w.operand(lengthVal, cell)
	if w.err != nil {
		return nil
	}
	return qicode.NewPulse(length, opts...)
}

func (w *jobWalker) rotateFrame(v cue.Value) {
	cell := w.cellAt(v)
	radians, ok, err := floatField(v, "radians")
	if err != nil {
		w.fail(err)
		return
	}
	if !ok {
		w.failf(v.Pos(), "rotate_frame needs radians")
		return
	}
	if w.err != nil {
		return
	}
	w.job.RotateFrame(cell, radians)
}

func (w *jobWalker) wait(v cue.Value) {
	cell := w.cellAt(v)
	lengthVal := v.LookupPath(cue.ParsePath("length"))
	if !lengthVal.Exists() {
		w.failf(v.Pos(), "wait needs a length")
		return
	}
	length := w.operand(lengthVal, cell)
	if w.err != nil {
		return
	}
	w.job.Wait(cell, length)
}

func (w *jobWalker) recording(v cue.Value) {
	cell := w.cellAt(v)
	lengthVal := v.LookupPath(cue.ParsePath("length"))
	if !lengthVal.Exists() {
		w.failf(v.Pos(), "recording needs a length")
		return
	}
	length := w.operand(lengthVal, cell)

	var opts []qicode.RecordingOption
	if f := v.LookupPath(cue.ParsePath("offset")); f.Exists() {
		opts = append(opts, qicode.RecordingOffset(w.operand(f, cell)))
	}
	if s, ok, err := stringField(v, "save_to"); err != nil {
		w.fail(err)
		return
	} else if ok {
		opts = append(opts, qicode.SaveTo(s))
	}
	if s, ok, err := stringField(v, "state_to"); err != nil {
		w.fail(err)
		return
	} else if ok {
		opts = append(opts, qicode.StateTo(w.variable(v.Pos(), s)))
	}
	if b, ok, err := boolField(v, "toggle_continuous"); err != nil {
		w.fail(err)
		return
	} else if ok {
		opts = append(opts, qicode.ToggleContinuous(b))
	}
	if w.err != nil {
		return
	}
	w.job.Recording(cell, length, opts...)
}

func (w *jobWalker) digitalTrigger(v cue.Value) {
	cell := w.cellAt(v)
	length, ok, err := floatField(v, "length")
	if err != nil {
		w.fail(err)
		return
	}
	if !ok {
		w.failf(v.Pos(), "digital_trigger needs a length")
		return
	}
	outputsVal := v.LookupPath(cue.ParsePath("outputs"))
	if !outputsVal.Exists() {
		w.failf(v.Pos(), "digital_trigger needs outputs")
		return
	}
	outputs, err := intList(outputsVal)
	if err != nil {
		w.fail(err)
		return
	}
	if w.err != nil {
		return
	}
	w.job.DigitalTrigger(cell, length, outputs)
}

func (w *jobWalker) assign(v cue.Value) {
	name, ok, err := stringField(v, "var")
	if err != nil {
		w.fail(err)
		return
	}
	if !ok {
		w.failf(v.Pos(), "assign needs a var")
		return
	}
	dst := w.variable(v.Pos(), name)

	valueVal := v.LookupPath(cue.ParsePath("value"))
	addVal := v.LookupPath(cue.ParsePath("add"))
	subVal := v.LookupPath(cue.ParsePath("sub"))
	forms := 0
	for _, set := range []bool{valueVal.Exists(), addVal.Exists(), subVal.Exists()} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		w.failf(v.Pos(), "assign needs exactly one of value, add or sub")
		return
	}

	var rhs any
	switch {
	case valueVal.Exists():
		rhs = w.operand(valueVal, nil)
	case addVal.Exists():
		ops := w.operandPair(addVal)
		if w.err != nil {
			return
		}
		rhs = qicode.Add(ops[0], ops[1])
	default:
		ops := w.operandPair(subVal)
		if w.err != nil {
			return
		}
		rhs = qicode.Sub(ops[0], ops[1])
	}
	if w.err != nil {
		return
	}
	w.job.Assign(dst, rhs)
}

func (w *jobWalker) operandPair(v cue.Value) [2]any {
	iter, err := v.List()
	if err != nil {
		w.fail(cueError(err))
		return [2]any{}
	}
	var ops []any
	for iter.Next() {
		ops = append(ops, w.operand(iter.Value(), nil))
	}
	if w.err != nil {
		return [2]any{}
	}
	if len(ops) != 2 {
		w.failf(v.Pos(), "needs exactly two operands, has %d", len(ops))
		return [2]any{}
	}
	return [2]any{ops[0], ops[1]}
}

func (w *jobWalker) sync(v cue.Value) {
	var cells []*qicode.Cell
	if f := v.LookupPath(cue.ParsePath("cells")); f.Exists() {
		idxs, err := intList(f)
		if err != nil {
			w.fail(err)
			return
		}
		for _, idx := range idxs {
			cells = append(cells, w.cellIndex(f.Pos(), idx))
		}
	}
	if w.err != nil {
		return
	}
	w.job.Sync(cells...)
}

func (w *jobWalker) branch(v cue.Value) {
	name, ok, err := stringField(v, "var")
	if err != nil {
		w.fail(err)
		return
	}
	if !ok {
		w.failf(v.Pos(), "an if needs a var")
		return
	}
	op, ok, err := stringField(v, "op")
	if err != nil {
		w.fail(err)
		return
	}
	if !ok {
		w.failf(v.Pos(), "an if needs an op")
		return
	}
	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		w.failf(v.Pos(), "an if needs a value")
		return
	}
	thenVal := v.LookupPath(cue.ParsePath("then"))
	if n, err := listLen(thenVal); err != nil || n == 0 {
		w.failf(v.Pos(), "then list is required and must be non-empty")
		return
	}

	lhs := w.variable(v.Pos(), name)
	rhs := w.operand(valueVal, nil)
	cond := w.condition(v.Pos(), op, lhs, rhs)
	if w.err != nil {
		return
	}
	w.job.If(cond, w.blockOf(thenVal))
	if elseVal := v.LookupPath(cue.ParsePath("else")); elseVal.Exists() {
		w.job.Else(w.blockOf(elseVal))
	}
}

func (w *jobWalker) condition(pos token.Pos, op string, a, b any) *qicode.Condition {
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
	case "<=":
		return qicode.Le(a, b)
	}
	w.failf(pos, "unknown comparison %q", op)
	return nil
}

func (w *jobWalker) forRange(v cue.Value) {
	name, ok, err := stringField(v, "var")
	if err != nil {
		w.fail(err)
		return
	}
	if !ok {
		w.failf(v.Pos(), "a for needs a var")
		return
	}
	startVal := v.LookupPath(cue.ParsePath("start"))
	endVal := v.LookupPath(cue.ParsePath("end"))
	stepVal := v.LookupPath(cue.ParsePath("step"))
	if !startVal.Exists() || !endVal.Exists() || !stepVal.Exists() {
		w.failf(v.Pos(), "a for needs start, end and step")
		return
	}
	bodyVal := v.LookupPath(cue.ParsePath("body"))
	if n, err := listLen(bodyVal); err != nil || n == 0 {
		w.failf(v.Pos(), "body list is required and must be non-empty")
		return
	}

	loopVar := w.variable(v.Pos(), name)
	start := w.operand(startVal, nil)
	end := w.operand(endVal, nil)
	step := w.operand(stepVal, nil)
	if w.err != nil {
		return
	}
	w.job.ForRange(loopVar, start, end, step, w.blockOf(bodyVal))
}

func (w *jobWalker) parallel(v cue.Value) {
	iter, err := v.List()
	if err != nil {
		w.fail(cueError(err))
		return
	}
	var bodies []func()
	for iter.Next() {
		bodies = append(bodies, w.blockOf(iter.Value()))
	}
	if len(bodies) < 2 {
		w.failf(v.Pos(), "parallel needs at least two branches")
		return
	}
	if w.err != nil {
		return
	}
	w.job.Parallel(bodies...)
}

func listLen(v cue.Value) (int, error) {
	if !v.Exists() {
		return 0, nil
	}
	iter, err := v.List()
	if err != nil {
		return 0, cueError(err)
	}
	n := 0
	for iter.Next() {
		n++
	}
	return n, nil
}
