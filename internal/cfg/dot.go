package cfg

import (
	"fmt"
	"strings"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// Dot renders the graph in Graphviz dot syntax, nodes and edges in id
// order so the output is stable across runs.
func (g *Graph) Dot() string {
	var sb strings.Builder
	sb.WriteString("digraph cfg {\n")
	for id := range g.nodes {
		n := &g.nodes[id]
		var label, shape string
		switch n.Kind {
		case KindStart:
			label, shape = "START", "oval"
		case KindEnd:
			label, shape = "END", "oval"
		default:
			label, shape = qicode.CommandText(n.Cmd), "box"
		}
		fmt.Fprintf(&sb, "  n%d [label=%q, shape=%s];\n", id, label, shape)
	}
	for id := range g.nodes {
		for _, e := range g.nodes[id].Out {
			label := e.Src.String()
			if e.Dest != DestNormal {
				label += "/" + e.Dest.String()
			}
			fmt.Fprintf(&sb, "  n%d -> n%d [label=%q];\n", e.From, e.To, label)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
