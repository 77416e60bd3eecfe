// Package cfg builds control flow graphs over sealed command streams.
//
// Nodes live in a slice owned by the Graph and are identified by dense
// NodeID handles, so analyses can keep per-node state in plain slices and
// iterate deterministically in id order. Every edge is stored on both
// endpoints and carries two roles: how the source leaves (SrcRole) and how
// the destination is entered (DestRole). The roles drive both the dataflow
// analyses and the store insertion points of the placement pass.
package cfg

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// NodeID is a dense handle into a Graph's node arena.
type NodeID int32

// NoNode marks the absence of a node.
const NoNode NodeID = -1

// NodeKind distinguishes the synthetic entry and exit nodes from nodes
// backed by a command.
type NodeKind uint8

const (
	KindStart NodeKind = iota
	KindEnd
	KindCommand
)

func (k NodeKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindEnd:
		return "end"
	case KindCommand:
		return "command"
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

// SrcRole describes an edge from its source node's point of view.
type SrcRole uint8

const (
	// SrcNormal is sequential flow out of a node.
	SrcNormal SrcRole = iota
	// SrcIfTrue leaves an If node into its body, or past the whole If
	// when the body is empty.
	SrcIfTrue
	// SrcIfFalse leaves an If node into its else body, or past the whole
	// If when there is none.
	SrcIfFalse
	// SrcForBody leaves a ForRange node into its body.
	SrcForBody
	// SrcForEnd leaves a ForRange node after the final iteration.
	SrcForEnd
)

func (r SrcRole) String() string {
	switch r {
	case SrcNormal:
		return "normal"
	case SrcIfTrue:
		return "if_true"
	case SrcIfFalse:
		return "if_false"
	case SrcForBody:
		return "for_body"
	case SrcForEnd:
		return "for_end"
	}
	return fmt.Sprintf("SrcRole(%d)", uint8(r))
}

// DestRole describes an edge from its destination node's point of view.
type DestRole uint8

const (
	// DestNormal is sequential flow into a node.
	DestNormal DestRole = iota
	// DestForEntry enters a ForRange node from outside the loop. The
	// placement pass rewires exactly these edges when it splices a store
	// in front of a loop.
	DestForEntry
	// DestBodyReturn enters a ForRange node from the tail of its own body.
	DestBodyReturn
)

func (r DestRole) String() string {
	switch r {
	case DestNormal:
		return "normal"
	case DestForEntry:
		return "for_entry"
	case DestBodyReturn:
		return "body_return"
	}
	return fmt.Sprintf("DestRole(%d)", uint8(r))
}

// Edge is one directed connection between two nodes. The same Edge value
// appears in the source's Out slice and the destination's In slice.
type Edge struct {
	From NodeID
	To   NodeID
	Src  SrcRole
	Dest DestRole
}

// Node is one graph node. Cmd is nil unless Kind is KindCommand. List and
// Index locate the command inside its owning command list; the placement
// pass uses them to translate graph positions back into insertion points.
//
// Out and In are maintained by the Graph. Mutate topology through Connect
// and InsertBefore only.
type Node struct {
	Kind  NodeKind
	Cmd   qicode.Command
	List  ListRef
	Index int
	Out   []Edge
	In    []Edge
}

// Graph is a control flow graph over one job's command stream.
type Graph struct {
	nodes []Node
	start NodeID
	end   NodeID
}

// Build constructs the graph for a job's commands.
//
// Each command becomes one node; Parallel blocks stay opaque single nodes.
// An If node reaches its body via SrcIfTrue and its else body via
// SrcIfFalse; an empty branch leaves the role on the fall-through edge
// instead. A ForRange node reaches its body via SrcForBody, receives the
// body's tail edges back as DestBodyReturn (an empty body becomes a self
// loop) and continues via SrcForEnd. Every edge arriving at a ForRange
// node from outside the loop is tagged DestForEntry, no matter which
// construct it leaves.
func Build(j *qicode.Job) *Graph {
	g := &Graph{start: NoNode, end: NoNode}
	b := builder{g: g}

	g.start = g.add(Node{Kind: KindStart, Index: -1})
	last := b.build(j.Commands(), JobList(), []dangling{{from: g.start, src: SrcNormal, dest: DestNormal}})
	g.end = g.add(Node{Kind: KindEnd, Index: -1})
	for _, d := range last {
		g.connect(d, g.end)
	}
	return g
}

// Start returns the synthetic entry node.
func (g *Graph) Start() NodeID { return g.start }

// End returns the synthetic exit node.
func (g *Graph) End() NodeID { return g.end }

// Len returns the number of nodes, including start and end.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node for id. The pointer stays valid until the next
// node is added.
func (g *Graph) Node(id NodeID) *Node { return &g.nodes[id] }

// CommandNodes returns the ids of all command-backed nodes in id order.
func (g *Graph) CommandNodes() []NodeID {
	var ids []NodeID
	for id := range g.nodes {
		if g.nodes[id].Kind == KindCommand {
			ids = append(ids, NodeID(id))
		}
	}
	return ids
}

// Connect adds an edge. Both endpoints record it.
func (g *Graph) Connect(e Edge) {
	g.nodes[e.From].Out = append(g.nodes[e.From].Out, e)
	g.nodes[e.To].In = append(g.nodes[e.To].In, e)
}

// InsertBefore splices a new command node in front of a loop node,
// rewiring every DestForEntry predecessor through it. The body return
// edges stay attached to the loop. The new node borrows the loop's list
// coordinates so later insertions land in front of the loop command.
func (g *Graph) InsertBefore(loop NodeID, cmd qicode.Command) NodeID {
	ln := g.Node(loop)
	id := g.add(Node{Kind: KindCommand, Cmd: cmd, List: ln.List, Index: ln.Index})
	ln = g.Node(loop)

	var kept []Edge
	for _, e := range ln.In {
		if e.Dest != DestForEntry {
			kept = append(kept, e)
			continue
		}
		g.removeOut(e)
		g.Connect(Edge{From: e.From, To: id, Src: e.Src, Dest: DestNormal})
	}
	ln.In = kept
	g.Connect(Edge{From: id, To: loop, Src: SrcNormal, Dest: DestForEntry})
	return id
}

func (g *Graph) add(n Node) NodeID {
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

func (g *Graph) connect(d dangling, to NodeID) {
	g.Connect(Edge{From: d.from, To: to, Src: d.src, Dest: d.dest})
}

// removeOut drops e from its source node's Out slice.
func (g *Graph) removeOut(e Edge) {
	out := g.nodes[e.From].Out
	for i := range out {
		if out[i] == e {
			g.nodes[e.From].Out = append(out[:i], out[i+1:]...)
			return
		}
	}
}

// dangling is an edge whose destination is not yet known.
type dangling struct {
	from NodeID
	src  SrcRole
	dest DestRole
}

type builder struct {
	g *Graph
}

// build adds nodes for cmds and connects prev to the first of them. It
// returns the dangling edges leaving the last command, or prev unchanged
// when cmds is empty.
func (b *builder) build(cmds []qicode.Command, list ListRef, prev []dangling) []dangling {
	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case *qicode.IfCommand:
			id := b.node(cmd, list, i, prev)
			prev = b.branch(id, SrcIfTrue, c.Body(), IfBody(c))
			prev = append(prev, b.branch(id, SrcIfFalse, c.ElseBody(), IfElse(c))...)
		case *qicode.ForRangeCommand:
			// Entering a loop from anywhere outside it is a loop entry.
			for j := range prev {
				prev[j].dest = DestForEntry
			}
			id := b.node(cmd, list, i, prev)
			if len(c.Body()) == 0 {
				b.g.Connect(Edge{From: id, To: id, Src: SrcForBody, Dest: DestBodyReturn})
			} else {
				body := b.build(c.Body(), ForBody(c), []dangling{{from: id, src: SrcForBody, dest: DestNormal}})
				for _, d := range body {
					d.dest = DestBodyReturn
					b.g.connect(d, id)
				}
			}
			prev = []dangling{{from: id, src: SrcForEnd, dest: DestNormal}}
		default:
			// Plain commands and opaque Parallel blocks.
			id := b.node(cmd, list, i, prev)
			prev = []dangling{{from: id, src: SrcNormal, dest: DestNormal}}
		}
	}
	return prev
}

// branch builds one arm of an If node. An empty arm leaves the role
// dangling so flow falls through past the If.
func (b *builder) branch(id NodeID, role SrcRole, body []qicode.Command, list ListRef) []dangling {
	arm := []dangling{{from: id, src: role, dest: DestNormal}}
	if len(body) == 0 {
		return arm
	}
	return b.build(body, list, arm)
}

func (b *builder) node(cmd qicode.Command, list ListRef, index int, prev []dangling) NodeID {
	id := b.g.add(Node{Kind: KindCommand, Cmd: cmd, List: list, Index: index})
	for _, d := range prev {
		b.g.connect(d, id)
	}
	return id
}
