// Package placement hoists per-cell hardware parameters out of the
// command stream.
//
// Seven parameters live in memory mapped module registers: the recording
// window offset, and frequency, phase and amplitude of the manipulation
// and readout pulse generators. Programs never set the registers
// directly; every pulse or recording carries its parameter values and
// the hardware keeps the last written word. This pass decides where the
// register stores go. Per parameter it runs a partial redundancy
// elimination: loop invariant uses get a pseudo store spliced before the
// loop, a reverse analysis computes the anticipated value in front of
// every node, a forward analysis the value already available behind it,
// and stores are inserted exactly where a known anticipated value is not
// available yet. A parameter that is one constant across the whole job
// collapses to a pinned initial value on the cell with no stores at all.
package placement

import (
	"sort"

	"github.com/quantuminterface/qicode/internal/cfg"
	"github.com/quantuminterface/qicode/internal/dataflow"
	"github.com/quantuminterface/qicode/internal/qicode"
)

// Word addresses of the parameter registers, one per module, divided by
// four because the sequencer's store unit addresses words.
const (
	RecordingOffsetAddr       uint32 = 0x8010 / 4
	ManipulationFrequencyAddr uint32 = 0x18014 / 4
	ReadoutFrequencyAddr      uint32 = 0x38100 / 4
	ManipulationPhaseAddr     uint32 = 0x18030 / 4
	ReadoutPhaseAddr          uint32 = 0x38030 / 4
	ManipulationAmplitudeAddr uint32 = 0x18010 / 4
	ReadoutAmplitudeAddr      uint32 = 0x38010 / 4
)

// getter extracts one parameter use from a command. used reports whether
// the command touches the parameter at all; a used command with a nil
// expression keeps whatever value the hardware holds.
type getter func(cmd qicode.Command) (cell *qicode.Cell, expr qicode.Expression, used bool)

// param is one placement round.
type param struct {
	addr uint32

	// value feeds the dataflow analyses and the inserted stores.
	value getter

	// raw feeds the whole-job constant check and the initial seeding. It
	// differs from value for amplitudes, whose stored word duplicates
	// the 16 bit raw value into both halves.
	raw getter

	// seed pins a constant parameter on the cell.
	seed func(cell *qicode.Cell, e qicode.Expression)
}

// Apply rewrites the sealed job in place, running the rounds in the
// fixed register order. Inserted MemStore commands carry constants, cell
// properties or the expressions of variable parameters; codegen lowers
// them like any other store.
func Apply(j *qicode.Job) error {
	for _, p := range rounds() {
		if err := applyParam(j, p); err != nil {
			return err
		}
	}
	return nil
}

func rounds() []param {
	return []param{
		{
			addr:  RecordingOffsetAddr,
			value: recordingOffset,
			raw:   recordingOffset,
			seed:  (*qicode.Cell).SetInitialRecordingOffset,
		},
		{
			addr:  ManipulationFrequencyAddr,
			value: manipPulse((*qicode.Pulse).Frequency),
			raw:   manipPulse((*qicode.Pulse).Frequency),
			seed:  (*qicode.Cell).SetInitialManipulationFrequency,
		},
		{
			addr:  ReadoutFrequencyAddr,
			value: readoutPulse((*qicode.Pulse).Frequency),
			raw:   readoutPulse((*qicode.Pulse).Frequency),
			seed:  (*qicode.Cell).SetInitialReadoutFrequency,
		},
		{
			addr:  ManipulationPhaseAddr,
			value: manipPulse((*qicode.Pulse).Phase),
			raw:   manipPulse((*qicode.Pulse).Phase),
			seed:  (*qicode.Cell).SetInitialPhase,
		},
		{
			addr:  ReadoutPhaseAddr,
			value: readoutPulse((*qicode.Pulse).Phase),
			raw:   readoutPulse((*qicode.Pulse).Phase),
			seed:  (*qicode.Cell).SetInitialReadoutPhase,
		},
		{
			addr:  ManipulationAmplitudeAddr,
			value: manipPulse(dupHalves((*qicode.Pulse).Amplitude)),
			raw:   manipPulse((*qicode.Pulse).Amplitude),
			seed:  (*qicode.Cell).SetInitialAmplitude,
		},
		{
			addr:  ReadoutAmplitudeAddr,
			value: readoutPulse(dupHalves((*qicode.Pulse).Amplitude)),
			raw:   readoutPulse((*qicode.Pulse).Amplitude),
			seed:  (*qicode.Cell).SetInitialReadoutAmplitude,
		},
	}
}

func recordingOffset(cmd qicode.Command) (*qicode.Cell, qicode.Expression, bool) {
	switch c := cmd.(type) {
	case *qicode.RecordingCommand:
		return c.Cell(), c.Offset(), true
	case *qicode.PlayReadoutCommand:
		if r := c.Recording(); r != nil {
			return c.Cell(), r.Offset(), true
		}
	}
	return nil, nil, false
}

type pulseProp func(*qicode.Pulse) qicode.Expression

// manipPulse reads a parameter off the manipulation pulse generator's
// commands. Frame rotations count: their pulse carries the rotation as
// phase and no frequency, so they block frequency hoisting across them.
func manipPulse(p pulseProp) getter {
	return func(cmd qicode.Command) (*qicode.Cell, qicode.Expression, bool) {
		switch c := cmd.(type) {
		case *qicode.PlayCommand:
			return c.Cell(), p(c.Pulse()), true
		case *qicode.RotateFrameCommand:
			return c.Cell(), p(c.Pulse()), true
		}
		return nil, nil, false
	}
}

func readoutPulse(p pulseProp) getter {
	return func(cmd qicode.Command) (*qicode.Cell, qicode.Expression, bool) {
		if c, ok := cmd.(*qicode.PlayReadoutCommand); ok {
			return c.Cell(), p(c.Pulse()), true
		}
		return nil, nil, false
	}
}

// dupHalves mirrors the 16 bit amplitude into both halves of the
// register word.
func dupHalves(p pulseProp) pulseProp {
	return func(pl *qicode.Pulse) qicode.Expression {
		a := p(pl)
		if a == nil {
			return nil
		}
		return qicode.BitOr(a, qicode.Shl(a, 16))
	}
}

func applyParam(j *qicode.Job, p param) error {
	g := cfg.Build(j)

	if err := checkParallels(g, p); err != nil {
		return err
	}
	pseudo := insertPseudoStores(g, p)

	antic := anticipated(g, p)
	avail := available(g, j, antic)

	insertStores(g, j, p, pseudo, antic, avail)
	return nil
}

// checkParallels rejects parallel blocks whose entries disagree on the
// parameter for the same cell; the merged trigger timeline can only
// carry one value.
func checkParallels(g *cfg.Graph, p param) error {
	for _, id := range g.CommandNodes() {
		par, ok := g.Node(id).Cmd.(*qicode.ParallelCommand)
		if !ok {
			continue
		}
		uses := collectParallel(p.value, par)
		for _, cell := range sortedCells(uses) {
			if uses[cell].multiple {
				return &qicode.Error{
					Code:    qicode.CodeParallelMultiOffset,
					Message: "parallel blocks with multiple recording instructions with different offsets are not supported",
					Cell:    cell.Name(),
				}
			}
		}
	}
	return nil
}

// insertPseudoStores splices a store node in front of every loop whose
// body uses the parameter with a single, loop invariant value. The
// nodes only live in the graph; if the value turns out to be available
// already, no command is ever inserted for one. The returned set marks
// them apart from stores that exist in the command lists.
func insertPseudoStores(g *cfg.Graph, p param) map[qicode.Command]bool {
	pseudo := map[qicode.Command]bool{}
	for _, id := range g.CommandNodes() {
		loop, ok := g.Node(id).Cmd.(*qicode.ForRangeCommand)
		if !ok {
			continue
		}
		uses := loopUses(p.value, loop.Body())
		for _, cell := range sortedCells(uses) {
			u := uses[cell]
			if u.multiple || !invariantIn(u.expr, loop) {
				continue
			}
			cmd := qicode.NewMemStore(cell, p.addr, u.expr)
			pseudo[cmd] = true
			g.InsertBefore(id, cmd)
		}
	}
	return pseudo
}

// anticipated computes, against the flow, the parameter value each cell
// needs next at every point. A use without an explicit value anticipates
// NoConst, which keeps stores for later uses from moving above it.
func anticipated(g *cfg.Graph, p param) []dataflow.CellValues {
	a := dataflow.Analysis[dataflow.CellValues]{
		Direction: dataflow.Reverse,
		Transfer: func(id cfg.NodeID, n *cfg.Node, in dataflow.CellValues) dataflow.CellValues {
			switch c := n.Cmd.(type) {
			case *qicode.ParallelCommand:
				out := in
				uses := collectParallel(p.value, c)
				for _, cell := range sortedCells(uses) {
					out = out.With(cell, dataflow.Value(uses[cell].expr))
				}
				return out
			case *qicode.ForRangeCommand:
				return in.InvalidateContaining(c.Variable())
			case *qicode.AssignCommand:
				return in.InvalidateContaining(c.Variable())
			case *qicode.DeclareCommand:
				return in.InvalidateContaining(c.Variable())
			case *qicode.MemStoreCommand:
				if c.Addr() != p.addr {
					return in
				}
				return in.With(c.Cell(), dataflow.Value(c.Value()))
			}
			cell, expr, used := p.value(n.Cmd)
			if !used {
				return in
			}
			if expr == nil {
				return in.With(cell, dataflow.NoConst())
			}
			return in.With(cell, dataflow.Value(expr))
		},
	}
	return a.Run(g)
}

// available computes, with the flow, the value each cell's register
// holds, assuming anticipated values are stored as early as possible.
// The start is pinned to NoConst: register contents are unknown before
// the program writes them.
func available(g *cfg.Graph, j *qicode.Job, antic []dataflow.CellValues) []dataflow.CellValues {
	a := dataflow.Analysis[dataflow.CellValues]{
		Direction: dataflow.Forward,
		Boundary: map[cfg.NodeID]dataflow.CellValues{
			g.Start(): dataflow.SeedCells(j.Cells(), dataflow.NoConst()),
		},
		Transfer: func(id cfg.NodeID, n *cfg.Node, in dataflow.CellValues) dataflow.CellValues {
			out := in
			nodeAntic := antic[id]
			for _, cell := range nodeAntic.Cells() {
				if v := nodeAntic.Get(cell); v.IsValue() {
					out = out.With(cell, v)
				}
			}
			switch c := n.Cmd.(type) {
			case *qicode.ForRangeCommand:
				out = out.InvalidateContaining(c.Variable())
			case *qicode.AssignCommand:
				out = out.InvalidateContaining(c.Variable())
			case *qicode.DeclareCommand:
				out = out.InvalidateContaining(c.Variable())
			}
			return out
		},
	}
	return a.Run(g)
}

// insertStores materializes the store commands. Constant cells seed
// their initial parameter instead and get none.
func insertStores(g *cfg.Graph, j *qicode.Job, p param, pseudo map[qicode.Command]bool, antic, avail []dataflow.CellValues) {
	type insertion struct {
		index int
		cmd   qicode.Command
	}
	pending := map[cfg.ListRef][]insertion{}
	var order []cfg.ListRef

	for _, cell := range j.Cells() {
		if expr, constant := constantUse(p, j, cell); constant {
			if expr != nil {
				p.seed(cell, expr)
			}
			continue
		}
		for _, id := range g.CommandNodes() {
			anticV := antic[id].Get(cell)
			if !anticV.IsValue() {
				continue
			}
			n := g.Node(id)
			// A store already in the list satisfies its own
			// anticipated value; only pseudo nodes materialize.
			if ms, ok := n.Cmd.(*qicode.MemStoreCommand); ok && !pseudo[ms] && ms.Addr() == p.addr && ms.Cell() == cell {
				continue
			}
			for _, e := range n.In {
				if anticV.Equal(avail[e.From].Get(cell)) {
					continue
				}
				list, idx := insertAt(g, n, e)
				if _, seen := pending[list]; !seen {
					order = append(order, list)
				}
				pending[list] = append(pending[list], insertion{
					index: idx,
					cmd:   qicode.NewMemStore(cell, p.addr, anticV.Expr()),
				})
			}
		}
	}

	// Back to front per list, so earlier indices stay valid.
	for _, list := range order {
		ins := pending[list]
		sort.SliceStable(ins, func(a, b int) bool { return ins[a].index > ins[b].index })
		for _, i := range ins {
			list.Insert(j, i.index, i.cmd)
		}
	}
}

// insertAt translates a graph edge needing a store into a command list
// position: the head of the node's own list when the node leads it, the
// head of the branch body when the edge leaves an If, otherwise right
// after the predecessor.
func insertAt(g *cfg.Graph, n *cfg.Node, e cfg.Edge) (cfg.ListRef, int) {
	if n.Index == 0 {
		return n.List, 0
	}
	pred := g.Node(e.From)
	switch e.Src {
	case cfg.SrcIfTrue:
		return cfg.IfBody(pred.Cmd.(*qicode.IfCommand)), 0
	case cfg.SrcIfFalse:
		return cfg.IfElse(pred.Cmd.(*qicode.IfCommand)), 0
	}
	return pred.List, pred.Index + 1
}
