package qicode

// The binding passes complete the cell and variable bookkeeping after
// program construction. Structured commands learn the cells their bodies
// touch, and variables learn the cells they are used on, so the code
// generator can give each variable a register on every sequencer that
// needs it.

// bindContainedCells unions the cells of nested commands into their
// enclosing structured commands, innermost first.
func bindContainedCells(cmds []Command) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *IfCommand:
			bindContainedCells(c.body)
			bindContainedCells(c.elseBody)
			for _, inner := range c.body {
				c.cells.addAll(inner.RelevantCells())
			}
			for _, inner := range c.elseBody {
				c.cells.addAll(inner.RelevantCells())
			}
		case *ForRangeCommand:
			bindContainedCells(c.body)
			for _, inner := range c.body {
				c.cells.addAll(inner.RelevantCells())
			}
		case *ParallelCommand:
			for _, entry := range c.entries {
				bindContainedCells(entry)
				for _, inner := range entry {
					c.cells.addAll(inner.RelevantCells())
				}
			}
		}
	}
}

// bindVariableCells attaches every variable to the cells it is used on.
// Commands are walked back to front so that an assignment inherits the
// cells of later uses of its destination and passes them on to the
// variables its value reads.
func bindVariableCells(cmds []Command) {
	for i := len(cmds) - 1; i >= 0; i-- {
		switch c := cmds[i].(type) {
		case *AssignCommand:
			c.cells.addAll(c.variable.cells)
			bindVariablesToCells(c.vars.vars, c.cells.cells)
		case *DeclareCommand:
			c.cells.addAll(c.variable.cells)
		case *IfCommand:
			bindVariableCells(c.body)
			bindVariableCells(c.elseBody)
			bindVariablesToCells(c.vars.vars, c.cells.cells)
		case *ForRangeCommand:
			bindVariableCells(c.body)
			bindVariablesToCells(c.vars.vars, c.cells.cells)
		case *ParallelCommand:
			for _, entry := range c.entries {
				bindVariableCells(entry)
			}
			bindVariablesToCells(c.vars.vars, c.cells.cells)
		default:
			bindVariablesToCells(c.Variables(), c.RelevantCells())
		}
	}
}

func bindVariablesToCells(vars []*Variable, cells []*Cell) {
	for _, v := range vars {
		for _, cell := range cells {
			cell.addVariable(v)
		}
	}
}

// CollectRecordings gathers every recording of the program in program
// order, including recordings merged into readout commands. inBranch
// reports whether any of them sits inside a conditional body, where the
// recording order depends on runtime state and can not be predicted.
func CollectRecordings(cmds []Command) (recordings []*RecordingCommand, inBranch bool) {
	var walk func(cmds []Command, depth int)
	walk = func(cmds []Command, depth int) {
		for _, cmd := range cmds {
			switch c := cmd.(type) {
			case *RecordingCommand:
				recordings = append(recordings, c)
				if depth > 0 {
					inBranch = true
				}
			case *PlayReadoutCommand:
				if c.recording != nil {
					recordings = append(recordings, c.recording)
					if depth > 0 {
						inBranch = true
					}
				}
			case *IfCommand:
				walk(c.body, depth+1)
				walk(c.elseBody, depth+1)
			case *ForRangeCommand:
				walk(c.body, depth)
			case *ParallelCommand:
				for _, entry := range c.entries {
					walk(entry, depth)
				}
			}
		}
	}
	walk(cmds, 0)
	return recordings, inBranch
}
