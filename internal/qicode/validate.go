package qicode

import (
	"math"

	"github.com/quantuminterface/qicode/internal/units"
)

// walkExpr visits every node of an expression tree, operands before their
// calculation.
func walkExpr(e Expression, fn func(Expression)) {
	if c, ok := e.(*Calc); ok {
		walkExpr(c.left, fn)
		if c.right != nil {
			walkExpr(c.right, fn)
		}
	}
	fn(e)
}

// runTypeFallback resolves the types construction left open. Constants
// reachable from commands fall back to Normal (integers) or Time
// (fractions), and an untyped loop variable becomes Normal, so that
//
//	v := j.Variable()
//	j.ForRange(v, 0, 10, 1, func() { ... })
//
// iterates with integer semantics even though its literals could also
// have been durations. Each type set here fires the usual constraints, so
// one fallback can settle a whole expression web.
func (j *Job) runTypeFallback() {
	fb := func(e Expression) {
		c, ok := e.(*Constant)
		if !ok || c.typeInfo().Type() != TypeUnknown {
			return
		}
		if c.isFloat {
			j.fail(c.typeInfo().setType(TypeTime, fallbackFloat))
			return
		}
		j.fail(c.typeInfo().setType(TypeNormal, fallbackInt))
	}
	var walk func(cmds []Command)
	walk = func(cmds []Command) {
		for _, cmd := range cmds {
			switch c := cmd.(type) {
			case *WaitCommand:
				walkExpr(c.length, fb)
			case *PlayCommand:
				walkExpr(c.length, fb)
			case *PlayReadoutCommand:
				walkExpr(c.length, fb)
				if c.recording != nil {
					walkExpr(c.recording.length, fb)
					walkExpr(c.recording.offset, fb)
				}
			case *PlayFluxCommand:
				walkExpr(c.length, fb)
			case *RotateFrameCommand:
				walkExpr(c.length, fb)
			case *RecordingCommand:
				walkExpr(c.length, fb)
				walkExpr(c.offset, fb)
			case *DigitalTriggerCommand:
				walkExpr(c.length, fb)
			case *AssignCommand:
				walkExpr(c.value, fb)
			case *MemStoreCommand:
				walkExpr(c.value, fb)
			case *IfCommand:
				walkExpr(c.condition.left, fb)
				walkExpr(c.condition.right, fb)
				walk(c.body)
				walk(c.elseBody)
			case *ForRangeCommand:
				if c.variable.typeInfo().Type() == TypeUnknown {
					j.fail(c.variable.typeInfo().setType(TypeNormal, fallbackInt))
				}
				walk(c.body)
			case *ParallelCommand:
				for _, entry := range c.entries {
					walk(entry)
				}
			}
		}
	}
	walk(j.commands)
}

// runPostTypecheck verifies that after fallback every reachable
// expression carries a type, and checks loop bounds that only make sense
// once the loop's type is settled: time loops must start at or above
// zero and step on the hardware cycle grid, and a constant end of zero
// is flagged because the end value is exclusive.
func (j *Job) runPostTypecheck() {
	check := func(e Expression) {
		if e.typeInfo().Type() == TypeUnknown {
			j.failf(CodeTypeUnresolved, "could not infer type of %s", e)
		}
	}
	var walk func(cmds []Command)
	walk = func(cmds []Command) {
		for _, cmd := range cmds {
			switch c := cmd.(type) {
			case *WaitCommand:
				walkExpr(c.length, check)
			case *PlayCommand:
				walkExpr(c.length, check)
			case *PlayReadoutCommand:
				walkExpr(c.length, check)
				if c.recording != nil {
					j.checkRecording(c.recording, check)
				}
			case *PlayFluxCommand:
				walkExpr(c.length, check)
			case *RotateFrameCommand:
				walkExpr(c.length, check)
			case *RecordingCommand:
				j.checkRecording(c, check)
			case *DigitalTriggerCommand:
				walkExpr(c.length, check)
			case *AssignCommand:
				check(c.variable)
				walkExpr(c.value, check)
			case *MemStoreCommand:
				walkExpr(c.value, check)
			case *IfCommand:
				walkExpr(c.condition.left, check)
				walkExpr(c.condition.right, check)
				walk(c.body)
				walk(c.elseBody)
			case *ForRangeCommand:
				check(c.variable)
				walkExpr(c.start, check)
				walkExpr(c.end, check)
				walkExpr(c.step, check)
				walk(c.body)
				j.checkLoopGrid(c)
			case *ParallelCommand:
				for _, entry := range c.entries {
					walk(entry)
				}
			}
		}
	}
	walk(j.commands)
}

func (j *Job) checkRecording(rec *RecordingCommand, check func(Expression)) {
	if rec.stateTo != nil {
		check(rec.stateTo)
	}
	walkExpr(rec.length, check)
	walkExpr(rec.offset, check)
}

// checkLoopGrid validates loop bounds against the hardware once the loop
// type is known.
func (j *Job) checkLoopGrid(c *ForRangeCommand) {
	switch c.variable.typeInfo().Type() {
	case TypeTime:
		if startC, ok := c.start.(*Constant); ok {
			if startC.GivenValue() < 0 {
				j.failf(CodeMalformedLoop, "negative time values are not allowed in a loop, start is %s", startC)
			}
			if endC, ok := c.end.(*Constant); ok && endC.Cycles() == 0 {
				j.warnf(CodeLoopEndExcluded, "an end value of 0 will not be included in the loop")
			}
		}
		if stepC, ok := c.step.(*Constant); ok {
			m := math.Round(math.Abs(math.Mod(stepC.GivenValue(), units.ControllerCycleTime)) * 1e11)
			if m != 0 && m != math.Round(units.ControllerCycleTime*1e11) {
				j.failf(CodeMalformedLoop, "a time loop step must be a multiple of %.3g ns, got %s",
					units.ControllerCycleTime*1e9, stepC)
			}
		}
	case TypeFrequency:
		if endC, ok := c.end.(*Constant); ok && endC.Value() == 0 {
			j.warnf(CodeLoopEndExcluded, "an end value of 0 will not be included in the loop")
		}
	}
}
