package placement

import (
	"sort"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// use is one cell's collected parameter value. multiple marks
// conflicting syntactic values, which block hoisting for the cell.
type use struct {
	expr     qicode.Expression
	multiple bool
}

func addUse(uses map[*qicode.Cell]use, cell *qicode.Cell, e qicode.Expression) {
	if e == nil {
		return
	}
	u, ok := uses[cell]
	if !ok {
		uses[cell] = use{expr: e}
		return
	}
	if !u.multiple && !u.expr.EqualSyntax(e) {
		uses[cell] = use{multiple: true}
	}
}

// loopUses gathers the parameter values a loop body touches, per cell,
// descending into branches, nested loops and parallel sections.
// Commands without an explicit value keep the register as is and do not
// take part.
func loopUses(get getter, body []qicode.Command) map[*qicode.Cell]use {
	uses := map[*qicode.Cell]use{}
	collectInto(get, body, uses)
	return uses
}

func collectInto(get getter, cmds []qicode.Command, uses map[*qicode.Cell]use) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.IfCommand:
			collectInto(get, c.Body(), uses)
			collectInto(get, c.ElseBody(), uses)
		case *qicode.ForRangeCommand:
			collectInto(get, c.Body(), uses)
		case *qicode.ParallelCommand:
			for _, entry := range c.Entries() {
				collectInto(get, entry, uses)
			}
		default:
			if cell, e, used := get(cmd); used {
				addUse(uses, cell, e)
			}
		}
	}
}

// collectParallel gathers parameter values across all entries of one
// parallel section. Entries run on a merged trigger timeline, so a cell
// with differing values comes back as multiple.
func collectParallel(get getter, par *qicode.ParallelCommand) map[*qicode.Cell]use {
	uses := map[*qicode.Cell]use{}
	for _, entry := range par.Entries() {
		collectInto(get, entry, uses)
	}
	return uses
}

// constantUse reports whether the cell uses the parameter with a single
// fixed value across the whole job. The returned expression is nil when
// the cell never sets the parameter explicitly; ok is false as soon as
// any value carries a variable or two values disagree.
func constantUse(p param, j *qicode.Job, cell *qicode.Cell) (qicode.Expression, bool) {
	if storesTo(j.Commands(), cell, p.addr) {
		return nil, false
	}
	uses := map[*qicode.Cell]use{}
	collectInto(p.raw, j.Commands(), uses)
	u, ok := uses[cell]
	if !ok {
		return nil, true
	}
	if u.multiple || len(u.expr.ContainedVariables()) > 0 {
		return nil, false
	}
	return u.expr, true
}

// storesTo reports whether the job writes the register directly, which
// rules the cell out of the pinned initial value path.
func storesTo(cmds []qicode.Command, cell *qicode.Cell, addr uint32) bool {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.MemStoreCommand:
			if c.Cell() == cell && c.Addr() == addr {
				return true
			}
		case *qicode.IfCommand:
			if storesTo(c.Body(), cell, addr) || storesTo(c.ElseBody(), cell, addr) {
				return true
			}
		case *qicode.ForRangeCommand:
			if storesTo(c.Body(), cell, addr) {
				return true
			}
		}
	}
	return false
}

// invariantIn reports whether the expression reads none of the
// variables the loop writes: the loop counter itself, nested counters,
// and any assignment or declaration target in the subtree.
func invariantIn(e qicode.Expression, loop *qicode.ForRangeCommand) bool {
	written := map[*qicode.Variable]bool{loop.Variable(): true}
	writtenVars(loop.Body(), written)
	for _, v := range e.ContainedVariables() {
		if written[v] {
			return false
		}
	}
	return true
}

func writtenVars(cmds []qicode.Command, written map[*qicode.Variable]bool) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.AssignCommand:
			written[c.Variable()] = true
		case *qicode.DeclareCommand:
			written[c.Variable()] = true
		case *qicode.ForRangeCommand:
			written[c.Variable()] = true
			writtenVars(c.Body(), written)
		case *qicode.IfCommand:
			writtenVars(c.Body(), written)
			writtenVars(c.ElseBody(), written)
		case *qicode.ParallelCommand:
			for _, entry := range c.Entries() {
				writtenVars(entry, written)
			}
		}
	}
}

func sortedCells(uses map[*qicode.Cell]use) []*qicode.Cell {
	cells := make([]*qicode.Cell, 0, len(uses))
	for cell := range uses {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(a, b int) bool { return cells[a].Index() < cells[b].Index() })
	return cells
}
