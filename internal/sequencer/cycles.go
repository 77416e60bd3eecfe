package sequencer

import (
	"github.com/quantuminterface/qicode/internal/qicode"
)

// syncKind names the program position a cycle count is measured from.
type syncKind int

const (
	syncProgramStart syncKind = iota
	syncCommand
	syncBeforeIf
	syncBeforeForRange
	syncAfterIteration
	syncBeforeParallel
	syncUnrollZero
	syncUnrollOne
)

// syncPoint identifies a position all cells of a job pass through. Two
// sequencers can be padded into lockstep with plain waits only when they
// count cycles from the same point.
type syncPoint struct {
	kind syncKind
	cmd  qicode.Command
}

// progCycles counts the cycles a sequencer has consumed since its last sync
// point. valid is cleared whenever the count depends on runtime state, for
// example after a branch or a wait on a register with a nondeterministic
// value.
type progCycles struct {
	point  syncPoint
	cycles int64
	valid  bool
}

func newProgCycles() progCycles { return progCycles{valid: true} }

func (p *progCycles) add(cycles int64, valid bool) {
	if !valid {
		p.valid = false
	}
	p.cycles += cycles
}

// synchronize restarts the count at the given point.
func (p *progCycles) synchronize(at syncPoint) {
	p.point, p.cycles, p.valid = at, 0, true
}

// progCycles reports the cycles since the last sync point, or -1 when the
// count is not deterministic.
func (s *Sequencer) progCycles() int64 {
	if !s.cycles.valid {
		return -1
	}
	return s.cycles.cycles
}
