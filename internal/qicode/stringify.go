package qicode

import (
	"fmt"
	"strings"
)

// commandName returns the listing name of a command's kind.
func commandName(c Command) string {
	switch c.(type) {
	case *PlayCommand:
		return "Play"
	case *PlayReadoutCommand:
		return "PlayReadout"
	case *PlayFluxCommand:
		return "PlayFlux"
	case *RotateFrameCommand:
		return "RotateFrame"
	case *RecordingCommand:
		return "Recording"
	case *DigitalTriggerCommand:
		return "DigitalTrigger"
	case *WaitCommand:
		return "Wait"
	case *AssignCommand:
		return "Assign"
	case *DeclareCommand:
		return "Declare"
	case *MemStoreCommand:
		return "Store"
	case *AsmCommand:
		return "Asm"
	case *SyncCommand:
		return "Sync"
	case *IfCommand:
		return "If"
	case *ForRangeCommand:
		return "ForRange"
	case *ParallelCommand:
		return "Parallel"
	}
	return "Command"
}

// The listing writes cells as q[i], couplers as c[i] and variables as
// v{id}, more compact than their diagnostic Strings.

func listingCell(c *Cell) string { return fmt.Sprintf("q[%d]", c.index) }

func listingCoupler(c *Coupler) string { return fmt.Sprintf("c[%d]", c.index) }

func listingExpr(e Expression) string {
	switch x := e.(type) {
	case *Variable:
		return fmt.Sprintf("v%d", x.id)
	case *CellProperty:
		base := fmt.Sprintf("%s[%q]", listingCell(x.cell), x.name)
		if len(x.chain) == 0 {
			return base
		}
		return strings.Replace(x.chainString(), "x", base, 1)
	case *Calc:
		if x.op == OpNot {
			return fmt.Sprintf("(~%s)", listingExpr(x.left))
		}
		return fmt.Sprintf("(%s %s %s)", listingExpr(x.left), x.op, listingExpr(x.right))
	}
	return e.String()
}

func listingCondition(c *Condition) string {
	return fmt.Sprintf("%s %s %s", listingExpr(c.left), c.op, listingExpr(c.right))
}

func listingPulse(p *Pulse) string {
	var args []string
	if p.mode == pulseModeNormal {
		args = append(args, listingExpr(p.length))
	} else {
		args = append(args, fmt.Sprintf("%q", p.mode))
	}
	if p.shape != ShapeRect {
		args = append(args, "shape="+p.shape.String())
	}
	if p.ampSet && p.mode != pulseModeOff {
		args = append(args, "amplitude="+listingExpr(p.amplitude))
	}
	if p.phaseSet {
		args = append(args, "phase="+listingExpr(p.phase))
	}
	if p.frequency != nil {
		args = append(args, "frequency="+listingExpr(p.frequency))
	}
	return fmt.Sprintf("Pulse(%s)", strings.Join(args, ", "))
}

func isZeroIntConstant(e Expression) bool {
	c, ok := e.(*Constant)
	return ok && !c.isFloat && c.given == 0
}

// CommandText renders a single command the way Listing does, without
// descending into structured bodies.
func CommandText(c Command) string { return listingCommand(c) }

func listingCommand(c Command) string {
	switch x := c.(type) {
	case *PlayCommand:
		return fmt.Sprintf("Play(%s, %s)", listingCell(x.cell), listingPulse(x.pulse))
	case *PlayReadoutCommand:
		return fmt.Sprintf("PlayReadout(%s, %s)", listingCell(x.cell), listingPulse(x.pulse))
	case *PlayFluxCommand:
		return fmt.Sprintf("PlayFlux(%s, %s)", listingCoupler(x.coupler), listingPulse(x.pulse))
	case *RotateFrameCommand:
		return fmt.Sprintf("RotateFrame(%s, %g)", listingCell(x.cell), x.radians)
	case *RecordingCommand:
		args := []string{listingCell(x.cell), listingExpr(x.length)}
		if !isZeroIntConstant(x.offset) {
			args = append(args, "offset="+listingExpr(x.offset))
		}
		if x.saveTo != "" {
			args = append(args, fmt.Sprintf("save_to=%q", x.saveTo))
		}
		if x.stateTo != nil {
			args = append(args, "state_to="+listingExpr(x.stateTo))
		}
		if x.toggleContinuous != nil {
			args = append(args, fmt.Sprintf("toggle_continuous=%t", *x.toggleContinuous))
		}
		return fmt.Sprintf("Recording(%s)", strings.Join(args, ", "))
	case *DigitalTriggerCommand:
		return fmt.Sprintf("DigitalTrigger(%s, %s, outputs=%v)",
			listingCell(x.cell), listingExpr(x.length), x.set.Outputs())
	case *WaitCommand:
		return fmt.Sprintf("Wait(%s, %s)", listingCell(x.cell), listingExpr(x.length))
	case *AssignCommand:
		return fmt.Sprintf("Assign(%s, %s)", listingExpr(x.variable), listingExpr(x.value))
	case *DeclareCommand:
		return fmt.Sprintf("%s = Variable()", listingExpr(x.variable))
	case *MemStoreCommand:
		return fmt.Sprintf("Store(%s, %#x, %s)", listingCell(x.cell), x.addr, listingExpr(x.value))
	case *AsmCommand:
		return fmt.Sprintf("Asm(%s, %s)", listingCell(x.cell), x.instruction)
	case *SyncCommand:
		refs := make([]string, 0, len(x.cells.cells))
		for _, cell := range x.cells.cells {
			refs = append(refs, listingCell(cell))
		}
		return fmt.Sprintf("Sync(%s)", strings.Join(refs, ", "))
	case *IfCommand:
		return fmt.Sprintf("If(%s)", listingCondition(x.condition))
	case *ForRangeCommand:
		return fmt.Sprintf("ForRange(%s, %s, %s, %s)",
			listingExpr(x.variable), listingExpr(x.start), listingExpr(x.end), listingExpr(x.step))
	}
	return commandName(c)
}

// Listing renders the program as indented pseudo code, one line per
// command, bodies nested below their structured command. Recordings
// merged into a readout print on their own line after it.
func (j *Job) Listing() string {
	var lines []string
	add := func(depth int, s string) {
		lines = append(lines, strings.Repeat("    ", depth+1)+s)
	}
	add(0, fmt.Sprintf("q = Cells(%d)", len(j.cells)))
	if len(j.couplers) > 0 {
		add(0, fmt.Sprintf("c = Couplers(%d)", len(j.couplers)))
	}
	var walk func(cmds []Command, depth int)
	walk = func(cmds []Command, depth int) {
		for _, cmd := range cmds {
			switch x := cmd.(type) {
			case *IfCommand:
				add(depth, listingCommand(x)+":")
				walk(x.body, depth+1)
				if x.HasElse() {
					add(depth, "Else:")
					walk(x.elseBody, depth+1)
				}
			case *ForRangeCommand:
				add(depth, listingCommand(x)+":")
				walk(x.body, depth+1)
			case *ParallelCommand:
				for _, entry := range x.entries {
					add(depth, "Parallel:")
					walk(entry, depth+1)
				}
			case *PlayReadoutCommand:
				add(depth, listingCommand(x))
				if x.recording != nil {
					add(depth, listingCommand(x.recording))
				}
			default:
				add(depth, listingCommand(cmd))
			}
		}
	}
	walk(j.commands, 0)
	return "Job:\n" + strings.Join(lines, "\n")
}

func (j *Job) String() string { return j.Listing() }
