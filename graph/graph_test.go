package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binlift/binlift/ir"
)

func retBlock(name string) *ir.Blk {
	return &ir.Blk{
		Tid: ir.Tid(name),
		Jmps: []*ir.Jmp{{
			Tid:   ir.Tid(name).WithSuffix("ret"),
			Kind:  ir.JmpReturn,
			Value: ir.MustParseExpr("0x0:8"),
		}},
	}
}

func condBlock(name, ifTarget, elseTarget string) *ir.Blk {
	return &ir.Blk{
		Tid: ir.Tid(name),
		Jmps: []*ir.Jmp{
			{
				Tid:       ir.Tid(name).WithSuffix("jmp_if"),
				Kind:      ir.JmpCBranch,
				Condition: ir.MustParseExpr("ZF:1"),
				Target:    ir.Tid(ifTarget),
			},
			{
				Tid:    ir.Tid(name).WithSuffix("jmp_else"),
				Kind:   ir.JmpBranch,
				Target: ir.Tid(elseTarget),
			},
		},
	}
}

func singleSubProgram(name string, blocks ...*ir.Blk) *ir.Program {
	p := ir.NewProgram()
	p.AddSub(&ir.Sub{Tid: ir.Tid(name), Name: name, Blocks: blocks})
	return p
}

func TestBuildCFGConditionalPair(t *testing.T) {
	p := singleSubProgram("sub",
		condBlock("cond", "b_if", "b_else"),
		retBlock("b_if"),
		retBlock("b_else"),
	)
	g := BuildCFG(p)
	assert.Equal(t, 6, g.Len())

	ifStart, ok := g.NodeOf(ir.Tid("b_if"), BlkStart)
	require.True(t, ok)
	in := g.InEdges(ifStart)
	require.Len(t, in, 1)
	assert.Equal(t, EdgeJump, in[0].Kind)
	assert.Equal(t, ir.JmpCBranch, in[0].Jmp.Kind)
	assert.Nil(t, in[0].Sibling)

	elseStart, ok := g.NodeOf(ir.Tid("b_else"), BlkStart)
	require.True(t, ok)
	in = g.InEdges(elseStart)
	require.Len(t, in, 1)
	assert.Equal(t, EdgeJump, in[0].Kind)
	assert.Equal(t, ir.JmpBranch, in[0].Jmp.Kind)
	require.NotNil(t, in[0].Sibling)
	assert.Equal(t, ir.JmpCBranch, in[0].Sibling.Kind)
}

func TestBuildCFGBlockEdge(t *testing.T) {
	p := singleSubProgram("sub", retBlock("only"))
	g := BuildCFG(p)

	start, ok := g.NodeOf(ir.Tid("only"), BlkStart)
	require.True(t, ok)
	end, ok := g.NodeOf(ir.Tid("only"), BlkEnd)
	require.True(t, ok)

	assert.Empty(t, g.InEdges(start))
	out := g.OutEdges(start)
	require.Len(t, out, 1)
	assert.Equal(t, EdgeBlock, out[0].Kind)
	assert.Equal(t, end, out[0].To)

	// A return produces no outgoing edge in the intraprocedural view.
	assert.Empty(t, g.OutEdges(end))
}

func TestBuildCFGCallEdges(t *testing.T) {
	ret := ir.Tid("ret_site")
	callBlk := &ir.Blk{
		Tid: ir.Tid("call_blk"),
		Jmps: []*ir.Jmp{{
			Tid:    ir.Tid("call_blk").WithSuffix("call"),
			Kind:   ir.JmpCall,
			Target: ir.Tid("callee"),
			Return: &ret,
		}},
	}
	p := ir.NewProgram()
	p.AddSub(&ir.Sub{
		Tid:    ir.Tid("caller"),
		Name:   "caller",
		Blocks: []*ir.Blk{callBlk, retBlock("ret_site")},
	})
	p.AddSub(&ir.Sub{
		Tid:    ir.Tid("callee"),
		Name:   "callee",
		Blocks: []*ir.Blk{retBlock("callee_entry")},
	})
	g := BuildCFG(p)

	calleeStart, ok := g.NodeOf(ir.Tid("callee_entry"), BlkStart)
	require.True(t, ok)
	in := g.InEdges(calleeStart)
	require.Len(t, in, 1)
	assert.Equal(t, EdgeCall, in[0].Kind)

	retStart, ok := g.NodeOf(ir.Tid("ret_site"), BlkStart)
	require.True(t, ok)
	in = g.InEdges(retStart)
	require.Len(t, in, 1)
	assert.Equal(t, EdgeCallReturn, in[0].Kind)
	assert.Equal(t, ir.JmpCall, in[0].Jmp.Kind)
}

func TestBuildCFGIndirectBranch(t *testing.T) {
	indBlk := &ir.Blk{
		Tid: ir.Tid("ind"),
		Jmps: []*ir.Jmp{{
			Tid:        ir.Tid("ind").WithSuffix("jmp"),
			Kind:       ir.JmpBranchInd,
			TargetExpr: ir.MustParseExpr("r0:8"),
		}},
		IndirectJmpTargets: []ir.Tid{"t1", "t2"},
	}
	p := singleSubProgram("sub", indBlk, retBlock("t1"), retBlock("t2"))
	g := BuildCFG(p)

	for _, target := range []ir.Tid{"t1", "t2"} {
		start, ok := g.NodeOf(target, BlkStart)
		require.True(t, ok)
		in := g.InEdges(start)
		require.Len(t, in, 1)
		assert.Equal(t, EdgeJump, in[0].Kind)
		assert.Equal(t, ir.JmpBranchInd, in[0].Jmp.Kind)
	}
}

func TestBuildCFGSkipsUnknownTargets(t *testing.T) {
	blk := &ir.Blk{
		Tid: ir.Tid("blk"),
		Jmps: []*ir.Jmp{{
			Tid:    ir.Tid("blk").WithSuffix("jmp"),
			Kind:   ir.JmpBranch,
			Target: ir.Tid("elsewhere"),
		}},
	}
	p := singleSubProgram("sub", blk)
	g := BuildCFG(p)

	end, ok := g.NodeOf(ir.Tid("blk"), BlkEnd)
	require.True(t, ok)
	assert.Empty(t, g.OutEdges(end))
}
