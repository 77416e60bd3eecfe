package dataflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// CellValues maps cells to Flat values. The zero value is empty and every
// cell reads as Undefined. All operations leave the receiver untouched
// and return fresh values, so results stored by the engine stay stable.
type CellValues struct {
	m map[*qicode.Cell]Flat
}

// SeedCells gives every cell the same starting value.
func SeedCells(cells []*qicode.Cell, v Flat) CellValues {
	m := make(map[*qicode.Cell]Flat, len(cells))
	for _, c := range cells {
		m[c] = v
	}
	return CellValues{m: m}
}

// Get returns the value for cell, Undefined when the cell is unknown.
func (c CellValues) Get(cell *qicode.Cell) Flat { return c.m[cell] }

// With returns a copy with cell set to v.
func (c CellValues) With(cell *qicode.Cell, v Flat) CellValues {
	m := c.clone(1)
	m[cell] = v
	return CellValues{m: m}
}

// MergeCell returns a copy with v merged into cell's value.
func (c CellValues) MergeCell(cell *qicode.Cell, v Flat) CellValues {
	return c.With(cell, c.Get(cell).Merge(v))
}

// Merge combines two maps key-wise. A cell known on one side only keeps
// that side's value.
func (c CellValues) Merge(o CellValues) CellValues {
	m := c.clone(len(o.m))
	for cell, v := range o.m {
		if cur, ok := m[cell]; ok {
			m[cell] = cur.Merge(v)
		} else {
			m[cell] = v
		}
	}
	return CellValues{m: m}
}

// Equal compares both maps, reading missing entries as Undefined on
// either side.
func (c CellValues) Equal(o CellValues) bool {
	for cell, v := range c.m {
		if v.IsUndefined() {
			continue
		}
		if !v.Equal(o.Get(cell)) {
			return false
		}
	}
	for cell, v := range o.m {
		if v.IsUndefined() {
			continue
		}
		if !v.Equal(c.Get(cell)) {
			return false
		}
	}
	return true
}

// InvalidateContaining downgrades every Value whose expression mentions
// v to NoConst. Writing a variable makes expressions built on it stale.
func (c CellValues) InvalidateContaining(v *qicode.Variable) CellValues {
	m := c.clone(0)
	for cell, val := range m {
		if val.IsValue() && exprContains(val.expr, v) {
			m[cell] = NoConst()
		}
	}
	return CellValues{m: m}
}

// Cells returns the known cells ordered by cell index.
func (c CellValues) Cells() []*qicode.Cell {
	cells := make([]*qicode.Cell, 0, len(c.m))
	for cell := range c.m {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, k int) bool { return cells[i].Index() < cells[k].Index() })
	return cells
}

func (c CellValues) String() string {
	parts := make([]string, 0, len(c.m))
	for _, cell := range c.Cells() {
		parts = append(parts, fmt.Sprintf("%d: %s", cell.Index(), c.m[cell]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (c CellValues) clone(extra int) map[*qicode.Cell]Flat {
	m := make(map[*qicode.Cell]Flat, len(c.m)+extra)
	for cell, v := range c.m {
		m[cell] = v
	}
	return m
}

func exprContains(e qicode.Expression, v *qicode.Variable) bool {
	for _, cv := range e.ContainedVariables() {
		if cv == v {
			return true
		}
	}
	return false
}
