// Package graph derives a control-flow graph from an ir.Program. The graph
// is a throwaway view: nodes reference blocks by pointer but are addressed
// through stable block Tids, and analyses that mutate the program rebuild
// the graph wholesale instead of patching it.
package graph

import (
	"golang.org/x/exp/slices"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
)

// NodeKind distinguishes the entry point of a block from its exit point.
type NodeKind byte

const (
	// BlkStart is the program point before the block's first def.
	BlkStart NodeKind = iota
	// BlkEnd is the program point after all defs, before the jumps.
	BlkEnd
)

// NodeID indexes a node within its graph. IDs are dense and start at zero.
type NodeID int

// Node is a program point of one block, tagged with the owning subroutine.
type Node struct {
	Kind NodeKind
	Blk  *ir.Blk
	Sub  *ir.Sub
}

// EdgeKind tags the variant of an Edge.
type EdgeKind byte

const (
	// EdgeBlock connects the BlkStart of a block to its BlkEnd.
	EdgeBlock EdgeKind = iota
	// EdgeJump is a branch from a block exit to a block entry. Jmp holds
	// the jump instruction; Sibling holds the preceding conditional jump
	// when Jmp is the unconditional half of a cbranch/branch pair, so that
	// consumers can recognize else edges.
	EdgeJump
	// EdgeCall connects a call site's exit to the callee's entry block.
	EdgeCall
	// EdgeCallReturn connects a call site's exit to the block execution
	// resumes at after the call returns.
	EdgeCallReturn
)

// Edge is a directed control-flow edge.
type Edge struct {
	Kind     EdgeKind
	From, To NodeID
	Jmp      *ir.Jmp // EdgeJump: the jump; EdgeCall/EdgeCallReturn: the call
	Sibling  *ir.Jmp // EdgeJump on the else side of a conditional pair
}

type nodeKey struct {
	blk  ir.Tid
	kind NodeKind
}

// Graph is a directed control-flow graph over one program snapshot.
type Graph struct {
	nodes []Node
	index map[nodeKey]NodeID
	in    map[NodeID][]*Edge
	out   map[NodeID][]*Edge
}

// Len returns the number of nodes. Valid NodeIDs are 0 through Len()-1.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id NodeID) *Node {
	return &g.nodes[id]
}

// NodeOf looks up the node for a block Tid and kind.
func (g *Graph) NodeOf(blk ir.Tid, kind NodeKind) (NodeID, bool) {
	id, ok := g.index[nodeKey{blk, kind}]
	return id, ok
}

// InEdges returns the edges ending at the given node.
func (g *Graph) InEdges(id NodeID) []*Edge {
	return g.in[id]
}

// OutEdges returns the edges starting at the given node.
func (g *Graph) OutEdges(id NodeID) []*Edge {
	return g.out[id]
}

func (g *Graph) addNode(n Node) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.index[nodeKey{n.Blk.Tid, n.Kind}] = id
	return id
}

func (g *Graph) addEdge(e Edge) {
	edge := e
	g.out[edge.From] = append(g.out[edge.From], &edge)
	g.in[edge.To] = append(g.in[edge.To], &edge)
}

// BuildCFG constructs the control-flow graph of a program. Jump targets
// that do not resolve to a known block produce no edge; the lifted IR may
// legitimately reference blocks outside the program, e.g. for tail calls
// into library stubs.
func BuildCFG(p *ir.Program) *Graph {
	g := &Graph{
		index: make(map[nodeKey]NodeID),
		in:    make(map[NodeID][]*Edge),
		out:   make(map[NodeID][]*Edge),
	}

	subTids := make([]ir.Tid, 0, len(p.Subs))
	for tid := range p.Subs {
		subTids = append(subTids, tid)
	}
	slices.Sort(subTids)

	for _, tid := range subTids {
		sub := p.Subs[tid]
		for _, blk := range sub.Blocks {
			start := g.addNode(Node{Kind: BlkStart, Blk: blk, Sub: sub})
			end := g.addNode(Node{Kind: BlkEnd, Blk: blk, Sub: sub})
			g.addEdge(Edge{Kind: EdgeBlock, From: start, To: end})
		}
	}

	for _, tid := range subTids {
		sub := p.Subs[tid]
		for _, blk := range sub.Blocks {
			from := g.index[nodeKey{blk.Tid, BlkEnd}]
			for i, jmp := range blk.Jmps {
				g.addJumpEdges(p, from, blk, i, jmp)
			}
		}
	}
	return g
}

func (g *Graph) addJumpEdges(p *ir.Program, from NodeID, blk *ir.Blk, idx int, jmp *ir.Jmp) {
	switch jmp.Kind {
	case ir.JmpBranch:
		var sibling *ir.Jmp
		if idx == 1 && blk.Jmps[0].Kind == ir.JmpCBranch {
			sibling = blk.Jmps[0]
		}
		g.addJumpEdgeTo(from, jmp.Target, jmp, sibling)
	case ir.JmpCBranch:
		g.addJumpEdgeTo(from, jmp.Target, jmp, nil)
	case ir.JmpBranchInd:
		for _, target := range blk.IndirectJmpTargets {
			g.addJumpEdgeTo(from, target, jmp, nil)
		}
	case ir.JmpCall:
		if callee, ok := p.Subs[jmp.Target]; ok && len(callee.Blocks) > 0 {
			to := g.index[nodeKey{callee.Blocks[0].Tid, BlkStart}]
			g.addEdge(Edge{Kind: EdgeCall, From: from, To: to, Jmp: jmp})
		}
		g.addReturnEdge(from, jmp)
	case ir.JmpCallInd, ir.JmpCallOther:
		g.addReturnEdge(from, jmp)
	case ir.JmpReturn:
		// Return-to-caller edges need call contexts and are not part of
		// this intraprocedural view.
	}
}

func (g *Graph) addJumpEdgeTo(from NodeID, target ir.Tid, jmp, sibling *ir.Jmp) {
	to, ok := g.index[nodeKey{target, BlkStart}]
	if !ok {
		log.Trace("Jump target outside program", "jump", jmp.Tid, "target", target)
		return
	}
	g.addEdge(Edge{Kind: EdgeJump, From: from, To: to, Jmp: jmp, Sibling: sibling})
}

func (g *Graph) addReturnEdge(from NodeID, call *ir.Jmp) {
	if call.Return == nil {
		return
	}
	to, ok := g.index[nodeKey{*call.Return, BlkStart}]
	if !ok {
		log.Trace("Call return target outside program", "call", call.Tid, "target", *call.Return)
		return
	}
	g.addEdge(Edge{Kind: EdgeCallReturn, From: from, To: to, Jmp: call})
}
