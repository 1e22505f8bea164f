// Package normalize contains IR normalization passes that run after lifting
// and before analysis.
package normalize

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"github.com/binlift/binlift/graph"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
)

// InvariantError is the panic value raised when a pass detects corruption
// of one of its internal invariants, i.e. a programming error. It is never
// returned as an ordinary error.
type InvariantError struct {
	Msg string
}

func (e InvariantError) Error() string {
	return "internal invariant violated: " + e.Msg
}

// PropagateControlFlow simplifies sequences of if-else blocks that share
// one condition, so that either all of them execute or none do. Such
// sequences typically stem from runs of conditional-assignment instructions
// in the lifted binary.
//
// The pass looks for sequences of jumps whose final target is already
// determined at the source of the first jump, because the conditions along
// the sequence all evaluate the same way. The first jump is then retargeted
// directly to the final destination, and blocks that lose their last
// incoming edge through this are deleted.
func PropagateControlFlow(p *ir.Program) {
	cfgBefore := graph.BuildCFG(p)
	orphansBefore := blocksWithoutIncomingEdge(cfgBefore)

	// Plan first, mutate later: all retargets are derived from one frozen
	// snapshot of the CFG, keyed by the Tid of the jump to rewrite.
	retargets := make(map[ir.Tid]ir.Tid)
	for id := graph.NodeID(0); int(id) < cfgBefore.Len(); id++ {
		node := cfgBefore.Node(id)
		if node.Kind != graph.BlkStart {
			continue
		}
		// Conditions known to be true on a particular outgoing edge.
		var trueConds []*ir.Expression
		if pre := blockPreconditionAfterDefs(cfgBefore, id); pre != nil {
			trueConds = append(trueConds, pre)
		}

		blk, sub := node.Blk, node.Sub
		if ifJmp, elseJmp, ok := blk.ConditionalPair(); ok {
			trueConds = append(trueConds, ifJmp.Condition)
			if target, ok := resolveChain(ifJmp.Target, sub, trueConds); ok {
				retargets[ifJmp.Tid] = target
			}
			trueConds[len(trueConds)-1] = ifJmp.Condition.Negate()
			if target, ok := resolveChain(elseJmp.Target, sub, trueConds); ok {
				retargets[elseJmp.Tid] = target
			}
			continue
		}
		jmp := blk.SingleJmp()
		switch {
		case jmp == nil:
			continue
		case jmp.Kind == ir.JmpBranch:
			if target, ok := resolveChain(jmp.Target, sub, trueConds); ok {
				retargets[jmp.Tid] = target
			}
		case jmp.IsCall() && jmp.Return != nil:
			// The call may invalidate every condition that held before
			// it executed, so only unconditional chains may be skipped.
			if target, ok := resolveChain(*jmp.Return, sub, nil); ok {
				retargets[jmp.Tid] = target
			}
		}
	}

	planned := len(retargets)
	retargetJumps(p, retargets)

	cfgAfter := graph.BuildCFG(p)
	orphansAfter := blocksWithoutIncomingEdge(cfgAfter)
	removed := removeNewOrphanedBlocks(p, orphansBefore, orphansAfter)

	log.Debug("Propagated control flow", "retargeted", planned, "removedBlocks", removed)
}

// retargetJumps rewrites the target of every jump the plan names. A plan
// entry pointing at a jump that cannot carry a target is corruption: the
// planner only ever selects branches, conditional branches and returning
// calls, so disagreement here means planner and rewriter have diverged.
func retargetJumps(p *ir.Program, retargets map[ir.Tid]ir.Tid) {
	for _, sub := range p.Subs {
		for _, blk := range sub.Blocks {
			for _, jmp := range blk.Jmps {
				newTarget, ok := retargets[jmp.Tid]
				if !ok {
					continue
				}
				delete(retargets, jmp.Tid)
				switch {
				case jmp.Kind == ir.JmpBranch || jmp.Kind == ir.JmpCBranch:
					jmp.Target = newTarget
				case jmp.IsCall() && jmp.Return != nil:
					ret := newTarget
					jmp.Return = &ret
				default:
					panic(InvariantError{fmt.Sprintf(
						"retarget planned for jump %s of kind %d", jmp.Tid, jmp.Kind)})
				}
			}
		}
	}
}

// resolveChain follows def-free jump blocks starting at target for as long
// as the known-true conditions determine each block's exit. It returns the
// final target and true if the chain moved past the starting block.
func resolveChain(target ir.Tid, sub *ir.Sub, trueConds []*ir.Expression) (ir.Tid, bool) {
	visited := mapset.NewThreadUnsafeSet(target)
	current := target

	for {
		blk := sub.BlockByTid(current)
		if blk == nil {
			break
		}
		next, ok := retargetableBlockExit(blk, trueConds)
		if !ok {
			break
		}
		if visited.Contains(next) {
			// Already visited: abort the search instead of looping.
			break
		}
		visited.Add(next)
		current = next
	}

	if current != target {
		return current, true
	}
	return "", false
}

// retargetableBlockExit returns the exit a def-free block takes, provided
// the known-true conditions determine it. Blocks with defs cannot be
// skipped over, since their effects would be lost.
func retargetableBlockExit(blk *ir.Blk, trueConds []*ir.Expression) (ir.Tid, bool) {
	if len(blk.Defs) > 0 {
		return "", false
	}
	if jmp := blk.SingleJmp(); jmp != nil && jmp.Kind == ir.JmpBranch {
		return jmp.Target, true
	}
	if ifJmp, elseJmp, ok := blk.ConditionalPair(); ok {
		for _, cond := range trueConds {
			if ifJmp.Condition.Equal(cond) {
				return ifJmp.Target, true
			}
			if ifJmp.Condition.Equal(cond.Negate()) {
				return elseJmp.Target, true
			}
		}
	}
	return "", false
}

// blockPreconditionAfterDefs returns a condition known to hold after all
// defs of the node's block have executed, or nil if no such condition can
// be derived.
func blockPreconditionAfterDefs(g *graph.Graph, id graph.NodeID) *ir.Expression {
	node := g.Node(id)
	if node.Kind != graph.BlkStart {
		return nil
	}
	if node.Blk.Tid == node.Sub.Blocks[0].Tid {
		// Subroutine entry blocks always have caller edges, even when the
		// CFG omits them because the callers are unknown.
		return nil
	}

	pre := preconditionFromIncomingEdges(g, id)
	if pre == nil {
		return nil
	}

	// The condition entered the block as true; it stays true only if no
	// def overwrites a variable it reads. Stores never do, conditions are
	// evaluated over variables, not memory.
	inputVars := pre.InputVars()
	for _, def := range node.Blk.Defs {
		switch def.Kind {
		case ir.DefAssign, ir.DefLoad:
			if inputVars.Contains(def.Var) {
				return nil
			}
		}
	}
	return pre
}

// preconditionFromIncomingEdges returns the condition guaranteed true on
// entry to the node, derived from its incoming edges: every edge must be
// the taken side of a conditional branch, or the else side of one, and all
// edges must agree on the same condition. A single edge that cannot be
// explained this way leaves the entry condition unknown.
func preconditionFromIncomingEdges(g *graph.Graph, id graph.NodeID) *ir.Expression {
	var first *ir.Expression
	for _, edge := range g.InEdges(id) {
		var cond *ir.Expression
		switch {
		case edge.Kind == graph.EdgeJump && edge.Jmp.Kind == ir.JmpCBranch && edge.Sibling == nil:
			cond = edge.Jmp.Condition
		case edge.Kind == graph.EdgeJump && edge.Jmp.Kind == ir.JmpBranch && edge.Sibling != nil:
			cond = edge.Sibling.Condition.Negate()
		default:
			return nil
		}
		switch {
		case first == nil:
			first = cond
		case first.Equal(cond):
			continue
		default:
			// Disagreeing edges admit no definitive statement.
			return nil
		}
	}
	return first
}

// blocksWithoutIncomingEdge returns the Tids of all blocks that have a node
// with no incoming edge in the graph.
func blocksWithoutIncomingEdge(g *graph.Graph) mapset.Set[ir.Tid] {
	orphans := mapset.NewThreadUnsafeSet[ir.Tid]()
	for id := graph.NodeID(0); int(id) < g.Len(); id++ {
		if len(g.InEdges(id)) == 0 {
			orphans.Add(g.Node(id).Blk.Tid)
		}
	}
	return orphans
}

// removeNewOrphanedBlocks deletes the blocks that lost their last incoming
// edge during this pass. Blocks that were already orphaned beforehand are
// kept; they may be unreachable only because the call graph is incomplete.
func removeNewOrphanedBlocks(p *ir.Program, orphansBefore, orphansAfter mapset.Set[ir.Tid]) int {
	newOrphans := orphansAfter.Difference(orphansBefore)
	if newOrphans.Cardinality() == 0 {
		return 0
	}
	removed := 0
	for _, sub := range p.Subs {
		before := len(sub.Blocks)
		sub.Blocks = slices.DeleteFunc(sub.Blocks, func(blk *ir.Blk) bool {
			return newOrphans.Contains(blk.Tid)
		})
		removed += before - len(sub.Blocks)
	}
	return removed
}
