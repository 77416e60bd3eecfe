// Package simulate replays a sealed program to recover the order in
// which its recordings fire. The hardware appends every recording to one
// raw buffer per cell; to hand each stored value back to the result it
// belongs to, the compiler needs the exact acquisition order ahead of
// time. The interpreter is deliberately restricted: it tracks integer
// variable state, unrolls loops whose bounds it can resolve and walks
// parallel sections in entry order. Recordings inside branches are
// rejected up front since no static order exists for them.
package simulate

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/units"
)

// Order maps each cell to its recordings in execution order. One
// recording command inside a loop appears once per iteration.
type Order map[*qicode.Cell][]*qicode.RecordingCommand

// Results returns the result boxes fed by the cell's recordings, in
// acquisition order. Recordings without a save target record state only
// and take no buffer slot here.
func (o Order) Results(cell *qicode.Cell) []*qicode.Result {
	var out []*qicode.Result
	for _, rec := range o[cell] {
		if box := rec.ResultBox(); box != nil {
			out = append(out, box)
		}
	}
	return out
}

// Commit writes the order onto the cells, replacing the outcome of any
// earlier run.
func (o Order) Commit() {
	for cell := range o {
		cell.SetRecordingOrder(o.Results(cell))
	}
}

// Run replays the job's commands and returns the per-cell recording
// order. Jobs without recordings skip the replay, so loops with bounds
// the interpreter cannot resolve stay compilable as long as nothing
// records inside them.
func Run(j *qicode.Job) (Order, error) {
	if err := rejectBranchRecordings(j.Commands(), false); err != nil {
		return nil, err
	}

	order := Order{}
	for _, cell := range j.Cells() {
		order[cell] = nil
	}
	if !anyRecording(j.Commands()) {
		return order, nil
	}

	s := &state{vars: map[*qicode.Variable]value{}, order: order}
	if err := s.run(j.Commands()); err != nil {
		return nil, err
	}
	return order, nil
}

// rejectBranchRecordings refuses recordings anywhere under an If: which
// arm runs is only known on the hardware, so the buffer order cannot be
// predicted.
func rejectBranchRecordings(cmds []qicode.Command, inBranch bool) error {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.RecordingCommand:
			if inBranch {
				return branchRecordingError(c.Cell())
			}
		case *qicode.PlayReadoutCommand:
			if inBranch && c.Recording() != nil {
				return branchRecordingError(c.Cell())
			}
		case *qicode.IfCommand:
			if err := rejectBranchRecordings(c.Body(), true); err != nil {
				return err
			}
			if err := rejectBranchRecordings(c.ElseBody(), true); err != nil {
				return err
			}
		case *qicode.ForRangeCommand:
			if err := rejectBranchRecordings(c.Body(), inBranch); err != nil {
				return err
			}
		case *qicode.ParallelCommand:
			for _, entry := range c.Entries() {
				if err := rejectBranchRecordings(entry, inBranch); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func branchRecordingError(cell *qicode.Cell) error {
	return &qicode.Error{
		Code:    qicode.CodeRecordingInBranch,
		Message: "recording commands inside if-else branches have no static execution order",
		Cell:    cell.Name(),
	}
}

func anyRecording(cmds []qicode.Command) bool {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.RecordingCommand:
			return true
		case *qicode.PlayReadoutCommand:
			if c.Recording() != nil {
				return true
			}
		case *qicode.IfCommand:
			if anyRecording(c.Body()) || anyRecording(c.ElseBody()) {
				return true
			}
		case *qicode.ForRangeCommand:
			if anyRecording(c.Body()) {
				return true
			}
		case *qicode.ParallelCommand:
			for _, entry := range c.Entries() {
				if anyRecording(entry) {
					return true
				}
			}
		}
	}
	return false
}

// value is one simulated variable slot. Declared variables start
// unassigned and fail evaluation until a concrete value arrives.
type value struct {
	v        int32
	assigned bool
}

type state struct {
	vars  map[*qicode.Variable]value
	order Order
}

func (s *state) run(cmds []qicode.Command) error {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.RecordingCommand:
			if err := s.record(c); err != nil {
				return err
			}
		case *qicode.PlayReadoutCommand:
			if rec := c.Recording(); rec != nil {
				if err := s.record(rec); err != nil {
					return err
				}
			}
		case *qicode.DeclareCommand:
			s.vars[c.Variable()] = value{}
		case *qicode.AssignCommand:
			v, err := s.eval(c.Value())
			if err != nil {
				return err
			}
			s.vars[c.Variable()] = value{v: v, assigned: true}
		case *qicode.ParallelCommand:
			if err := s.run(c.Body()); err != nil {
				return err
			}
		case *qicode.ForRangeCommand:
			if err := s.loop(c); err != nil {
				return err
			}
		case *qicode.IfCommand:
			// Branches hold no recordings at this point and their
			// assignments depend on runtime state; skipped.
		}
	}
	return nil
}

func (s *state) record(rec *qicode.RecordingCommand) error {
	cell := rec.Cell()
	if len(s.order[cell]) >= units.RecordingMaxRawSamples {
		return &qicode.Error{
			Code:    qicode.CodeRecordingOverflow,
			Message: fmt.Sprintf("more than %d recordings during one job execution", units.RecordingMaxRawSamples),
			Cell:    cell.Name(),
		}
	}
	s.order[cell] = append(s.order[cell], rec)
	return nil
}

func (s *state) loop(c *qicode.ForRangeCommand) error {
	start, err := s.eval(c.Start())
	if err != nil {
		return err
	}
	end, err := s.eval(c.End())
	if err != nil {
		return err
	}
	step, err := s.eval(c.Step())
	if err != nil {
		return err
	}

	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		s.vars[c.Variable()] = value{v: i, assigned: true}
		if err := s.run(c.Body()); err != nil {
			return err
		}
	}
	return nil
}

// eval resolves an expression to the 32 bit value a register would hold,
// with wrap-around arithmetic and the RV32 5 bit shift amount.
func (s *state) eval(e qicode.Expression) (int32, error) {
	switch x := e.(type) {
	case *qicode.Constant:
		return x.Value(), nil
	case *qicode.CellProperty:
		return x.Value()
	case *qicode.Variable:
		v, ok := s.vars[x]
		if !ok || !v.assigned {
			return 0, &qicode.Error{
				Code:    qicode.CodeUnsimulatable,
				Message: fmt.Sprintf("%s has no value the recording simulator can resolve", x),
				Var:     x.Name(),
			}
		}
		return v.v, nil
	case *qicode.Calc:
		return s.evalCalc(x)
	}
	return 0, &qicode.Error{
		Code:    qicode.CodeUnsimulatable,
		Message: fmt.Sprintf("%s cannot be evaluated by the recording simulator", e),
	}
}

func (s *state) evalCalc(c *qicode.Calc) (int32, error) {
	a, err := s.eval(c.Left())
	if err != nil {
		return 0, err
	}
	if c.Op() == qicode.OpNot {
		return ^a, nil
	}
	b, err := s.eval(c.Right())
	if err != nil {
		return 0, err
	}
	switch c.Op() {
	case qicode.OpPlus:
		return a + b, nil
	case qicode.OpMinus:
		return a - b, nil
	case qicode.OpMult:
		return a * b, nil
	case qicode.OpLsh:
		return a << (uint32(b) & 31), nil
	case qicode.OpRsh:
		return a >> (uint32(b) & 31), nil
	case qicode.OpAnd:
		return a & b, nil
	case qicode.OpOr:
		return a | b, nil
	case qicode.OpXor:
		return a ^ b, nil
	}
	return 0, &qicode.Error{
		Code:    qicode.CodeUnsimulatable,
		Message: fmt.Sprintf("operation %s cannot be evaluated by the recording simulator", c.Op()),
	}
}
