// Package ir holds the intermediate representation that binaries are lifted
// into: programs of subroutines, subroutines of basic blocks, blocks of
// straight-line definitions followed by jump terminators. All terms carry a
// stable Tid so that analyses can reference and rewrite them by identity.
package ir

// DefKind tags the variant of a Def.
type DefKind byte

const (
	// DefAssign writes the value of an expression to a variable.
	DefAssign DefKind = iota
	// DefLoad reads memory at an address into a variable.
	DefLoad
	// DefStore writes the value of an expression to memory.
	DefStore
)

// Def is a straight-line effect without control transfer.
type Def struct {
	Tid  Tid
	Kind DefKind

	Var     Variable    // DefAssign, DefLoad: destination
	Value   *Expression // DefAssign, DefStore: value written
	Address *Expression // DefLoad, DefStore: memory address
}

// JmpKind tags the variant of a Jmp. The variant set is closed; every
// consumer of jumps switches exhaustively over it.
type JmpKind byte

const (
	// JmpBranch transfers control unconditionally to Target.
	JmpBranch JmpKind = iota
	// JmpCBranch transfers control to Target if Condition evaluates to
	// true. It is always paired with a following JmpBranch carrying the
	// else target.
	JmpCBranch
	// JmpBranchInd transfers control to a computed address. Possible
	// targets, if known, are listed in the block's IndirectJmpTargets.
	JmpBranchInd
	// JmpCall calls the subroutine named by Target and resumes at Return,
	// or never resumes if Return is nil.
	JmpCall
	// JmpCallInd calls a computed address.
	JmpCallInd
	// JmpCallOther is a call with externally defined semantics, e.g. a
	// syscall or an instruction the lifter could not translate.
	JmpCallOther
	// JmpReturn returns from the enclosing subroutine.
	JmpReturn
)

// Jmp is a control-transfer terminator at the end of a block.
type Jmp struct {
	Tid  Tid
	Kind JmpKind

	Target      Tid         // JmpBranch, JmpCBranch: target block; JmpCall: callee
	TargetExpr  *Expression // JmpBranchInd, JmpCallInd: computed target
	Condition   *Expression // JmpCBranch
	Return      *Tid        // call kinds: return block, nil if the call never returns
	Description string      // JmpCallOther
	Value       *Expression // JmpReturn
}

// IsCall reports whether the jump is a direct, indirect or foreign call.
func (j *Jmp) IsCall() bool {
	return j.Kind == JmpCall || j.Kind == JmpCallInd || j.Kind == JmpCallOther
}

// Blk is a basic block: zero or more defs followed by its terminating
// jumps. A block ends in exactly one jump, except for the conditional case
// where a JmpCBranch is followed by the JmpBranch holding the else target.
type Blk struct {
	Tid  Tid
	Defs []*Def
	Jmps []*Jmp

	// IndirectJmpTargets lists the blocks an indirect branch in this block
	// may jump to, as far as the lifter could recover them.
	IndirectJmpTargets []Tid
}

// ConditionalPair returns the cbranch/branch pair terminating the block, or
// ok=false if the block ends differently.
func (b *Blk) ConditionalPair() (ifJmp, elseJmp *Jmp, ok bool) {
	if len(b.Jmps) == 2 && b.Jmps[0].Kind == JmpCBranch && b.Jmps[1].Kind == JmpBranch {
		return b.Jmps[0], b.Jmps[1], true
	}
	return nil, nil, false
}

// SingleJmp returns the block's sole terminator, or nil if the block ends
// in a conditional pair.
func (b *Blk) SingleJmp() *Jmp {
	if len(b.Jmps) == 1 {
		return b.Jmps[0]
	}
	return nil
}

// Sub is a subroutine. Blocks holds the blocks in insertion order, which is
// not control-flow order; Blocks[0] is the subroutine's entry block.
type Sub struct {
	Tid               Tid
	Name              string
	CallingConvention string // empty if unknown
	Blocks            []*Blk
}

// BlockByTid returns the block with the given identifier, or nil if the
// subroutine contains no such block.
func (s *Sub) BlockByTid(tid Tid) *Blk {
	for _, blk := range s.Blocks {
		if blk.Tid == tid {
			return blk
		}
	}
	return nil
}

// Program is the root of the IR: all subroutines of the lifted binary,
// keyed by their Tid. Normalization passes mutate a Program in place.
type Program struct {
	Subs map[Tid]*Sub
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{Subs: make(map[Tid]*Sub)}
}

// AddSub inserts a subroutine, replacing any previous one with the same Tid.
func (p *Program) AddSub(sub *Sub) {
	if p.Subs == nil {
		p.Subs = make(map[Tid]*Sub)
	}
	p.Subs[sub.Tid] = sub
}
