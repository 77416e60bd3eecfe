package sequencer

import (
	"github.com/quantuminterface/qicode/internal/qicode"
)

// ForRangeEntry records one lowered loop for progress estimation. Start and
// End hold the raw bounds when they were deterministic at compile time,
// EndAddr the index of the last instruction belonging to the loop.
type ForRangeEntry struct {
	Register   int
	Start      int32
	End        int32
	StartKnown bool
	EndKnown   bool
	Step       int32
	EndAddr    int

	// Iterations counts one pass of this loop alone, AggregateIterations
	// the passes including every nested loop.
	Iterations          int64
	AggregateIterations int64

	Contained []*ForRangeEntry
}

// ForRanges returns the recorded top level loops of the program.
func (s *Sequencer) ForRanges() []*ForRangeEntry { return s.loops }

func (s *Sequencer) entryValue(e qicode.Expression) (int32, bool) {
	switch x := e.(type) {
	case *qicode.Variable:
		return s.varShadow(x)
	case *qicode.Constant:
		return x.Value(), true
	case *qicode.CellProperty:
		v, err := x.Value()
		if err != nil {
			s.fail(err)
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// registerForRange opens a loop record. Nested loops attach to the
// innermost open record.
func (s *Sequencer) registerForRange(v *qicode.Variable, start, end qicode.Expression, step int32) {
	if s.err != nil {
		return
	}
	e := &ForRangeEntry{Register: s.varRegister(v).addr, Step: step}
	e.Start, e.StartKnown = s.entryValue(start)
	e.End, e.EndKnown = s.entryValue(end)
	if len(s.loopStack) == 0 {
		s.loops = append(s.loops, e)
	} else {
		top := s.loopStack[len(s.loopStack)-1]
		top.Contained = append(top.Contained, e)
	}
	s.loopStack = append(s.loopStack, e)
}

// exitForRange closes the innermost loop record and folds its iteration
// counts.
func (s *Sequencer) exitForRange() {
	if s.err != nil || len(s.loopStack) == 0 {
		return
	}
	e := s.loopStack[len(s.loopStack)-1]
	s.loopStack = s.loopStack[:len(s.loopStack)-1]
	e.EndAddr = len(s.instrs) - 1
	s.aggregateLoop(e)
}

func (s *Sequencer) aggregateLoop(e *ForRangeEntry) {
	if !e.StartKnown || !e.EndKnown {
		s.warnf(qicode.CodeProgressAccuracy,
			"a loop with variable bounds is not counted towards the total loop count, progress reports may be inaccurate")
		return
	}
	e.Iterations = rangeIterations(e.Start, e.End, e.Step)
	if len(e.Contained) == 0 {
		e.AggregateIterations = e.Iterations
		return
	}
	var nested int64
	for _, inner := range e.Contained {
		if inner.AggregateIterations == 0 {
			s.warnf(qicode.CodeProgressAccuracy,
				"a loop with variable bounds is not counted towards the total loop count, progress reports may be inaccurate")
			continue
		}
		nested += inner.AggregateIterations
	}
	if nested == 0 {
		nested = 1
	}
	e.AggregateIterations = e.Iterations * nested
}

// rangeIterations counts the values a loop visits running from start
// towards end, end excluded.
func rangeIterations(start, end, step int32) int64 {
	switch {
	case step > 0:
		if end <= start {
			return 0
		}
		return (int64(end) - int64(start) + int64(step) - 1) / int64(step)
	case step < 0:
		if end >= start {
			return 0
		}
		return (int64(start) - int64(end) - int64(step) - 1) / -int64(step)
	}
	return 0
}

// rangeEnd returns the first value past the loop, start plus a whole
// number of steps.
func rangeEnd(start, end, step int32) int32 {
	return start + int32(rangeIterations(start, end, step))*step
}

// iteration reports how many passes are complete once the loop variable
// holds value.
func (e *ForRangeEntry) iteration(value int32) int64 {
	if !e.StartKnown {
		return 0
	}
	return rangeIterations(e.Start, value, e.Step)
}

// TotalLoops estimates the total number of loop passes a program performs.
// Programs without countable loops report one pass.
func TotalLoops(entries []*ForRangeEntry) int64 {
	if len(entries) == 0 {
		return 1
	}
	var total int64
	for _, e := range entries {
		total += e.AggregateIterations
	}
	if total <= 0 {
		return 1
	}
	return total
}

// CurrentLoop derives the pass a running program is in from its program
// counter and register file.
func CurrentLoop(entries []*ForRangeEntry, registers []int32, pc int) int64 {
	var loop int64
	for _, e := range entries {
		if e.EndAddr < pc {
			loop += e.AggregateIterations
			continue
		}
		var value int32
		if e.Register >= 0 && e.Register < len(registers) {
			value = registers[e.Register]
		}
		it := e.iteration(value)
		if len(e.Contained) == 0 {
			loop += it
		} else {
			loop += it*TotalLoops(e.Contained) + CurrentLoop(e.Contained, registers, pc)
		}
		return loop
	}
	return loop
}
