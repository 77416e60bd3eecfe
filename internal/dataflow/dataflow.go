// Package dataflow runs fixpoint analyses over control flow graphs.
//
// The engine is a worklist iteration, parameterized over the flow
// direction and the lattice type. Values live in a slice indexed by
// cfg.NodeID, so results read back in deterministic id order.
package dataflow

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/cfg"
)

// Direction selects which way values flow through the graph.
type Direction uint8

const (
	// Forward propagates along edges, from Start towards End.
	Forward Direction = iota
	// Reverse propagates against edges, from End towards Start.
	Reverse
)

// Lattice is the value domain the engine iterates over. Merge combines
// values arriving over multiple edges, Equal decides convergence. Both
// must treat the receiver as immutable.
type Lattice[V any] interface {
	Merge(V) V
	Equal(V) bool
}

// Transfer computes the value leaving a command node from the value
// entering it. It must be monotone, otherwise the iteration has no
// fixpoint. Start and end nodes pass their input through unchanged.
type Transfer[V Lattice[V]] func(id cfg.NodeID, n *cfg.Node, in V) V

// Analysis describes one dataflow problem.
//
// Boundary presets node values before iteration. A preset only survives
// on nodes without incoming flow, such as the start node of a forward
// analysis; anywhere else the iteration recomputes it.
type Analysis[V Lattice[V]] struct {
	Direction Direction
	Initial   V
	Boundary  map[cfg.NodeID]V
	Transfer  Transfer[V]
}

// Run iterates the analysis to a fixpoint and returns the per-node
// values indexed by NodeID.
func (a Analysis[V]) Run(g *cfg.Graph) []V {
	out := make([]V, g.Len())
	for i := range out {
		out[i] = a.Initial
	}
	for id, v := range a.Boundary {
		out[id] = v
	}

	queue := g.CommandNodes()
	queued := make([]bool, g.Len())
	for _, id := range queue {
		queued[id] = true
	}

	// The lattices here are flat and the graphs small, so any live
	// iteration count beyond this is a transfer function bug.
	fuel := 1000 * (g.Len() + 1)

	for len(queue) > 0 {
		if fuel == 0 {
			panic(fmt.Sprintf("dataflow: no fixpoint after %d steps", 1000*(g.Len()+1)))
		}
		fuel--

		id := queue[0]
		queue = queue[1:]
		queued[id] = false
		n := g.Node(id)

		in := a.Initial
		for _, p := range a.flowPreds(n) {
			in = in.Merge(out[p])
		}

		res := in
		if n.Kind == cfg.KindCommand {
			res = a.Transfer(id, n, in)
		}
		if res.Equal(out[id]) {
			continue
		}
		out[id] = res
		for _, s := range a.flowSuccs(n) {
			if !queued[s] {
				queued[s] = true
				queue = append(queue, s)
			}
		}
	}
	return out
}

// flowPreds returns the nodes whose values feed id under the analysis
// direction.
func (a Analysis[V]) flowPreds(n *cfg.Node) []cfg.NodeID {
	if a.Direction == Forward {
		ids := make([]cfg.NodeID, len(n.In))
		for i, e := range n.In {
			ids[i] = e.From
		}
		return ids
	}
	ids := make([]cfg.NodeID, len(n.Out))
	for i, e := range n.Out {
		ids[i] = e.To
	}
	return ids
}

// flowSuccs returns the nodes to requeue when id's value changes.
func (a Analysis[V]) flowSuccs(n *cfg.Node) []cfg.NodeID {
	if a.Direction == Forward {
		ids := make([]cfg.NodeID, len(n.Out))
		for i, e := range n.Out {
			ids[i] = e.To
		}
		return ids
	}
	ids := make([]cfg.NodeID, len(n.In))
	for i, e := range n.In {
		ids[i] = e.From
	}
	return ids
}
