// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"
)

// VerifyError describes an IR well-formedness violation.
type VerifyError struct {
	Func    string
	Block   string
	Message string
}

func (e *VerifyError) Error() string {
	if e.Block != "" {
		return fmt.Sprintf("verify error in @%s, block %%%s: %s", e.Func, e.Block, e.Message)
	}
	return fmt.Sprintf("verify error in @%s: %s", e.Func, e.Message)
}

// Verify checks a function for structural and type errors:
//  1. Every block ends in a terminator that targets blocks of this function
//  2. The entry block has no predecessors
//  3. Phis lead their block and carry exactly one entry per predecessor
//  4. Every operand is defined once and its definition dominates the use
//  5. Operand and result types match the opcode
//  6. Calls name a function of the module with a matching arity
//
// Declarations always verify.
func Verify(fn *Function) []VerifyError {
	v := &verifier{fn: fn}
	v.run()
	return v.errs
}

// VerifyModule verifies every function of m.
func VerifyModule(m *Module) []VerifyError {
	var errs []VerifyError
	names := mapset.NewThreadUnsafeSet()
	for _, fn := range m.Functions {
		if !names.Add(fn.Name) {
			errs = append(errs, VerifyError{Func: fn.Name, Message: "function defined more than once"})
		}
		errs = append(errs, Verify(fn)...)
	}
	return errs
}

type verifier struct {
	fn   *Function
	errs []VerifyError

	defBlock map[int]*BasicBlock // nil for parameters
	defIndex map[int]int
	preds    map[*BasicBlock][]*BasicBlock
	dom      *DomTree
}

func (v *verifier) errorf(bb *BasicBlock, format string, args ...interface{}) {
	e := VerifyError{Func: v.fn.Name, Message: fmt.Sprintf(format, args...)}
	if bb != nil {
		e.Block = bb.Label
	}
	v.errs = append(v.errs, e)
}

func (v *verifier) run() {
	fn := v.fn
	if fn.IsDeclaration() {
		return
	}
	if fn.ReturnType != TypeDouble {
		v.errorf(nil, "return type %s, want double", fn.ReturnType)
	}

	// Collect definitions.
	v.defBlock = make(map[int]*BasicBlock)
	v.defIndex = make(map[int]int)
	for _, p := range fn.Params {
		if _, dup := v.defBlock[p.ID]; dup {
			v.errorf(nil, "parameter %s defined more than once", p)
		}
		v.defBlock[p.ID] = nil
		if p.Type != TypeDouble {
			v.errorf(nil, "parameter %s has type %s, want double", p, p.Type)
		}
	}
	blocks := mapset.NewThreadUnsafeSet()
	for _, bb := range fn.Blocks {
		if !blocks.Add(bb) {
			v.errorf(bb, "block appears more than once")
		}
		for i, inst := range bb.Instructions {
			if _, dup := v.defBlock[inst.Result.ID]; dup {
				v.errorf(bb, "value %s defined more than once", inst.Result)
				continue
			}
			v.defBlock[inst.Result.ID] = bb
			v.defIndex[inst.Result.ID] = i
		}
	}

	// Check the CFG.
	v.preds = make(map[*BasicBlock][]*BasicBlock)
	for _, bb := range fn.Blocks {
		if bb.Terminator == nil {
			v.errorf(bb, "block has no terminator")
			continue
		}
		for _, succ := range Successors(bb.Terminator) {
			if succ == nil || !blocks.Contains(succ) {
				v.errorf(bb, "branch to a block outside the function")
				continue
			}
			v.preds[succ] = append(v.preds[succ], bb)
		}
	}
	if len(v.preds[fn.Entry()]) > 0 {
		v.errorf(fn.Entry(), "entry block has predecessors")
	}
	if len(v.errs) > 0 {
		return
	}
	v.dom = ComputeDominators(fn)

	for _, bb := range fn.Blocks {
		seenNonPhi := false
		for i, inst := range bb.Instructions {
			if inst.Op == OpPhi {
				if seenNonPhi {
					v.errorf(bb, "phi %s is not at the start of the block", inst.Result)
				}
				v.checkPhi(bb, inst)
				continue
			}
			seenNonPhi = true
			v.checkInstruction(bb, inst)
			for _, op := range inst.Operands {
				v.checkUse(bb, i, op)
			}
		}
		switch t := bb.Terminator.(type) {
		case *TermReturn:
			if t.Value.Type != TypeDouble {
				v.errorf(bb, "return of %s value %s", t.Value.Type, t.Value)
			}
			v.checkUse(bb, len(bb.Instructions), t.Value)
		case *TermCondBranch:
			if t.Cond.Type != TypeBool {
				v.errorf(bb, "branch condition %s has type %s, want i1", t.Cond, t.Cond.Type)
			}
			v.checkUse(bb, len(bb.Instructions), t.Cond)
		}
	}
}

// checkUse reports an operand that is undefined or whose definition does not
// dominate position idx of block bb. Unreachable blocks are not checked for
// dominance.
func (v *verifier) checkUse(bb *BasicBlock, idx int, op Value) {
	db, ok := v.defBlock[op.ID]
	if !ok {
		v.errorf(bb, "use of undefined value %s", op)
		return
	}
	if db == nil || !v.dom.Reachable(bb) {
		return
	}
	if db == bb {
		if v.defIndex[op.ID] >= idx {
			v.errorf(bb, "value %s used before its definition", op)
		}
		return
	}
	if !v.dom.Dominates(db, bb) {
		v.errorf(bb, "definition of %s does not dominate its use", op)
	}
}

func (v *verifier) checkPhi(bb *BasicBlock, inst *Instruction) {
	if inst.Result.Type != TypeDouble && inst.Result.Type != TypeBool {
		v.errorf(bb, "phi %s has type %s", inst.Result, inst.Result.Type)
	}
	if len(inst.Operands) != len(inst.Incoming) {
		v.errorf(bb, "phi %s has %d values for %d blocks", inst.Result, len(inst.Operands), len(inst.Incoming))
		return
	}
	preds := v.preds[bb]
	if len(inst.Incoming) != len(preds) {
		v.errorf(bb, "phi %s has %d entries, block has %d predecessors", inst.Result, len(inst.Incoming), len(preds))
	}
	want := make(map[*BasicBlock]int)
	for _, p := range preds {
		want[p]++
	}
	for i, from := range inst.Incoming {
		op := inst.Operands[i]
		if want[from] == 0 {
			label := "<nil>"
			if from != nil {
				label = from.Label
			}
			v.errorf(bb, "phi %s has an entry for %%%s, which is not a predecessor", inst.Result, label)
			continue
		}
		want[from]--
		if op.Type != inst.Result.Type {
			v.errorf(bb, "phi %s operand %s has type %s", inst.Result, op, op.Type)
		}
		// The definition must dominate the end of the incoming block.
		db, ok := v.defBlock[op.ID]
		if !ok {
			v.errorf(bb, "use of undefined value %s", op)
			continue
		}
		if db != nil && v.dom.Reachable(from) && !v.dom.Dominates(db, from) {
			v.errorf(bb, "definition of %s does not dominate edge from %%%s", op, from.Label)
		}
	}
}

func (v *verifier) checkInstruction(bb *BasicBlock, inst *Instruction) {
	want := func(n int, typ Type, result Type) {
		if len(inst.Operands) != n {
			v.errorf(bb, "%s %s has %d operands, want %d", inst.Op, inst.Result, len(inst.Operands), n)
			return
		}
		for _, op := range inst.Operands {
			if op.Type != typ {
				v.errorf(bb, "%s %s operand %s has type %s, want %s", inst.Op, inst.Result, op, op.Type, typ)
			}
		}
		if inst.Result.Type != result {
			v.errorf(bb, "%s %s has type %s, want %s", inst.Op, inst.Result, inst.Result.Type, result)
		}
	}
	switch inst.Op {
	case OpConst:
		if len(inst.Operands) != 0 {
			v.errorf(bb, "const %s has operands", inst.Result)
		}
		if m := v.fn.Module; m != nil && (inst.ConstIdx < 0 || inst.ConstIdx >= len(m.Constants)) {
			v.errorf(bb, "const %s index %d out of range", inst.Result, inst.ConstIdx)
		}
		if inst.Result.Type != TypeDouble && inst.Result.Type != TypeBool {
			v.errorf(bb, "const %s has type %s", inst.Result, inst.Result.Type)
		}
	case OpFAdd, OpFSub, OpFMul:
		want(2, TypeDouble, TypeDouble)
	case OpFCmpULT, OpFCmpONE:
		want(2, TypeDouble, TypeBool)
	case OpUIToFP:
		want(1, TypeBool, TypeDouble)
	case OpCall:
		want(len(inst.Operands), TypeDouble, TypeDouble)
		if v.fn.Module == nil {
			return
		}
		callee := v.fn.Module.Function(inst.FuncName)
		if callee == nil {
			v.errorf(bb, "call to unknown function @%s", inst.FuncName)
			return
		}
		if callee.Arity() != len(inst.Operands) {
			v.errorf(bb, "call to @%s with %d arguments, want %d", inst.FuncName, len(inst.Operands), callee.Arity())
		}
	default:
		v.errorf(bb, "unknown instruction %s", inst.Op)
	}
}
