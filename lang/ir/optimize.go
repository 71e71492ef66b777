// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/log"
)

// ---------------------------------------------------------------------------
// Pass manager
// ---------------------------------------------------------------------------

// registry maps pass names to their implementation. A pass reports whether
// it changed the function.
var registry = map[string]func(*Function) bool{
	"instcombine": InstCombine,
	"reassociate": Reassociate,
	"gvn":         GVN,
	"simplifycfg": SimplifyCFG,
}

// DefaultPasses returns the standard per-function pipeline.
func DefaultPasses() []string {
	return []string{"instcombine", "reassociate", "gvn", "simplifycfg"}
}

// KnownPasses returns the names of all registered passes, sorted.
func KnownPasses() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PassManager runs a fixed sequence of passes over single functions.
type PassManager struct {
	names  []string
	passes []func(*Function) bool
}

// NewPassManager creates a pass manager running the named passes in order.
func NewPassManager(names ...string) (*PassManager, error) {
	pm := &PassManager{}
	for _, name := range names {
		pass, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown pass %q (known: %v)", name, KnownPasses())
		}
		pm.names = append(pm.names, name)
		pm.passes = append(pm.passes, pass)
	}
	return pm, nil
}

// Passes returns the configured pass names.
func (pm *PassManager) Passes() []string { return pm.names }

// Run applies every pass once, in order, and reports whether any changed fn.
func (pm *PassManager) Run(fn *Function) bool {
	if fn.IsDeclaration() {
		return false
	}
	changed := false
	for i, pass := range pm.passes {
		c := pass(fn)
		log.Trace("Ran IR pass", "pass", pm.names[i], "fn", fn.Name, "changed", c)
		changed = changed || c
	}
	return changed
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// constDefs maps the result ID of every OpConst to its value.
func constDefs(fn *Function) map[int]float64 {
	consts := make(map[int]float64)
	if fn.Module == nil {
		return consts
	}
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if inst.Op == OpConst && inst.ConstIdx >= 0 && inst.ConstIdx < len(fn.Module.Constants) {
				consts[inst.Result.ID] = fn.Module.Constants[inst.ConstIdx]
			}
		}
	}
	return consts
}

// definitions maps result IDs to their defining instruction.
func definitions(fn *Function) map[int]*Instruction {
	defs := make(map[int]*Instruction)
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			defs[inst.Result.ID] = inst
		}
	}
	return defs
}

// removeDeadInstructions removes instructions whose results are never used
// and that have no side effects.
func removeDeadInstructions(fn *Function) bool {
	uses := useCounts(fn)
	removed := false
	changed := true
	for changed {
		changed = false
		for _, block := range fn.Blocks {
			alive := block.Instructions[:0]
			for _, inst := range block.Instructions {
				if uses[inst.Result.ID] > 0 || hasSideEffects(inst.Op) {
					alive = append(alive, inst)
				} else {
					// Decrement use counts for operands of removed instruction.
					for _, op := range inst.Operands {
						uses[op.ID]--
					}
					changed = true
					removed = true
				}
			}
			block.Instructions = alive
		}
	}
	return removed
}

// removeInstructions drops the instructions whose result IDs are in dead.
func removeInstructions(fn *Function, dead map[int]bool) {
	for _, bb := range fn.Blocks {
		alive := bb.Instructions[:0]
		for _, inst := range bb.Instructions {
			if !dead[inst.Result.ID] {
				alive = append(alive, inst)
			}
		}
		bb.Instructions = alive
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// instcombine
// ---------------------------------------------------------------------------

// InstCombine folds instructions with constant operands, applies algebraic
// identities that hold for IEEE doubles, and removes dead instructions.
func InstCombine(fn *Function) bool {
	changed := false
	for progress := true; progress; {
		progress = false
		consts := constDefs(fn)
		defs := definitions(fn)
		for _, bb := range fn.Blocks {
			for _, inst := range bb.Instructions {
				if repl, ok := simplifyInstruction(inst, consts, defs); ok {
					ReplaceAllUses(fn, inst.Result, repl)
					progress = true
					continue
				}
				if v, ok := foldConstant(inst, consts); ok {
					inst.Op = OpConst
					inst.Operands = nil
					inst.ConstIdx = fn.Module.AddConstant(v)
					consts[inst.Result.ID] = v
					progress = true
				}
			}
		}
		if removeDeadInstructions(fn) {
			progress = true
		}
		changed = changed || progress
	}
	return changed
}

// foldConstant evaluates an instruction whose operands are all constants.
func foldConstant(inst *Instruction, consts map[int]float64) (float64, bool) {
	switch inst.Op {
	case OpFAdd, OpFSub, OpFMul, OpFCmpULT, OpFCmpONE:
		if len(inst.Operands) != 2 {
			return 0, false
		}
		a, aok := consts[inst.Operands[0].ID]
		b, bok := consts[inst.Operands[1].ID]
		if !aok || !bok {
			return 0, false
		}
		switch inst.Op {
		case OpFAdd:
			return a + b, true
		case OpFSub:
			return a - b, true
		case OpFMul:
			return a * b, true
		case OpFCmpULT:
			return boolValue(!(a >= b)), true
		case OpFCmpONE:
			return boolValue(a < b || a > b), true
		}
	case OpUIToFP:
		if len(inst.Operands) != 1 {
			return 0, false
		}
		if a, ok := consts[inst.Operands[0].ID]; ok {
			return boolValue(a != 0), true
		}
	}
	return 0, false
}

// simplifyInstruction returns an existing value equivalent to inst.
func simplifyInstruction(inst *Instruction, consts map[int]float64, defs map[int]*Instruction) (Value, bool) {
	if len(inst.Operands) != 2 {
		return Value{}, false
	}
	lhs, rhs := inst.Operands[0], inst.Operands[1]
	isConst := func(v Value, want float64) bool {
		c, ok := consts[v.ID]
		return ok && math.Float64bits(c) == math.Float64bits(want)
	}
	switch inst.Op {
	case OpFMul:
		// x * 1.0 -> x
		if isConst(rhs, 1) {
			return lhs, true
		}
		if isConst(lhs, 1) {
			return rhs, true
		}
	case OpFAdd:
		// x + -0.0 -> x
		if isConst(rhs, math.Copysign(0, -1)) {
			return lhs, true
		}
		if isConst(lhs, math.Copysign(0, -1)) {
			return rhs, true
		}
	case OpFSub:
		// x - 0.0 -> x
		if isConst(rhs, 0) {
			return lhs, true
		}
	case OpFCmpONE:
		// (uitofp b) != 0.0 -> b
		for _, pair := range [][2]Value{{lhs, rhs}, {rhs, lhs}} {
			def := defs[pair[0].ID]
			c, ok := consts[pair[1].ID]
			if def != nil && def.Op == OpUIToFP && ok && c == 0 {
				return def.Operands[0], true
			}
		}
	}
	return Value{}, false
}

// ---------------------------------------------------------------------------
// reassociate
// ---------------------------------------------------------------------------

// Reassociate canonicalises commutative instructions so that a constant
// operand is always on the right, exposing more matches to gvn.
func Reassociate(fn *Function) bool {
	consts := constDefs(fn)
	changed := false
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if !inst.Op.IsCommutative() || len(inst.Operands) != 2 {
				continue
			}
			_, lc := consts[inst.Operands[0].ID]
			_, rc := consts[inst.Operands[1].ID]
			if lc && !rc {
				inst.Operands[0], inst.Operands[1] = inst.Operands[1], inst.Operands[0]
				changed = true
			}
		}
	}
	return changed
}

// ---------------------------------------------------------------------------
// gvn
// ---------------------------------------------------------------------------

type valueKey struct {
	op   Op
	typ  Type
	a, b int
	c    int
}

// GVN removes instructions that recompute a value already available in a
// dominating block, including duplicate constants.
func GVN(fn *Function) bool {
	if fn.IsDeclaration() {
		return false
	}
	dom := ComputeDominators(fn)
	table := make(map[valueKey]Value)
	dead := make(map[int]bool)

	var walk func(bb *BasicBlock)
	walk = func(bb *BasicBlock) {
		var added []valueKey
		for _, inst := range bb.Instructions {
			key, ok := numberKey(inst)
			if !ok {
				continue
			}
			if existing, found := table[key]; found {
				ReplaceAllUses(fn, inst.Result, existing)
				dead[inst.Result.ID] = true
				continue
			}
			table[key] = inst.Result
			added = append(added, key)
		}
		for _, child := range dom.Children(bb) {
			walk(child)
		}
		for _, key := range added {
			delete(table, key)
		}
	}
	walk(fn.Entry())

	if len(dead) == 0 {
		return false
	}
	removeInstructions(fn, dead)
	return true
}

// numberKey returns the value-numbering key of a pure instruction. Operand
// IDs are read at call time, after earlier replacements have been applied.
func numberKey(inst *Instruction) (valueKey, bool) {
	key := valueKey{op: inst.Op, typ: inst.Result.Type, a: -1, b: -1, c: -1}
	switch inst.Op {
	case OpConst:
		key.c = inst.ConstIdx
	case OpFAdd, OpFSub, OpFMul, OpFCmpULT, OpFCmpONE:
		key.a, key.b = inst.Operands[0].ID, inst.Operands[1].ID
		if inst.Op.IsCommutative() && key.a > key.b {
			key.a, key.b = key.b, key.a
		}
	case OpUIToFP:
		key.a = inst.Operands[0].ID
	default:
		return key, false
	}
	return key, true
}

// ---------------------------------------------------------------------------
// simplifycfg
// ---------------------------------------------------------------------------

// SimplifyCFG folds constant branches, deletes unreachable blocks, removes
// trivial phis, merges blocks into their single predecessor and forwards
// empty blocks. The predecessor lists are up to date on return.
func SimplifyCFG(fn *Function) bool {
	if fn.IsDeclaration() {
		return false
	}
	changed := false
	for {
		fn.RebuildCFG()
		progress := foldConstantBranches(fn) ||
			removeUnreachableBlocks(fn) ||
			removeTrivialPhis(fn) ||
			mergeBlocks(fn) ||
			forwardEmptyBlocks(fn)
		if !progress {
			break
		}
		changed = true
	}
	return changed
}

// foldConstantBranches turns conditional branches on a constant, or with
// identical targets, into unconditional branches.
func foldConstantBranches(fn *Function) bool {
	consts := constDefs(fn)
	for _, bb := range fn.Blocks {
		t, ok := bb.Terminator.(*TermCondBranch)
		if !ok {
			continue
		}
		if t.TrueBlk == t.FalseBlk {
			for _, phi := range t.TrueBlk.Phis() {
				dropDuplicateIncoming(phi, bb)
			}
			bb.Terminator = &TermBranch{Target: t.TrueBlk}
			return true
		}
		c, isConst := consts[t.Cond.ID]
		if !isConst {
			continue
		}
		taken, dropped := t.TrueBlk, t.FalseBlk
		if c == 0 {
			taken, dropped = dropped, taken
		}
		for _, phi := range dropped.Phis() {
			phi.removeIncoming(bb)
		}
		bb.Terminator = &TermBranch{Target: taken}
		return true
	}
	return false
}

// dropDuplicateIncoming keeps only the first phi entry arriving from from.
func dropDuplicateIncoming(phi *Instruction, from *BasicBlock) {
	ops, blocks := phi.Operands[:0], phi.Incoming[:0]
	seen := false
	for i, bb := range phi.Incoming {
		if bb == from {
			if seen {
				continue
			}
			seen = true
		}
		ops = append(ops, phi.Operands[i])
		blocks = append(blocks, bb)
	}
	phi.Operands, phi.Incoming = ops, blocks
}

// removeUnreachableBlocks removes blocks that cannot be reached from the
// entry and prunes the phi entries they fed.
func removeUnreachableBlocks(fn *Function) bool {
	if len(fn.Blocks) <= 1 {
		return false
	}
	reachable := reachableSet(fn)
	if reachable.Cardinality() == len(fn.Blocks) {
		return false
	}
	alive := fn.Blocks[:0]
	for _, block := range fn.Blocks {
		if reachable.Contains(block) {
			alive = append(alive, block)
			continue
		}
		for _, succ := range Successors(block.Terminator) {
			for _, phi := range succ.Phis() {
				phi.removeIncoming(block)
			}
		}
	}
	fn.Blocks = alive
	return true
}

// removeTrivialPhis replaces phis whose entries all carry the same value
// (ignoring the phi itself) with that value.
func removeTrivialPhis(fn *Function) bool {
	dead := make(map[int]bool)
	for _, bb := range fn.Blocks {
		for _, phi := range bb.Phis() {
			var (
				same  Value
				found bool
				multi bool
			)
			for _, op := range phi.Operands {
				if op.ID == phi.Result.ID || (found && op.ID == same.ID) {
					continue
				}
				if found {
					multi = true
					break
				}
				same, found = op, true
			}
			if !found || multi {
				continue
			}
			ReplaceAllUses(fn, phi.Result, same)
			dead[phi.Result.ID] = true
		}
	}
	if len(dead) == 0 {
		return false
	}
	removeInstructions(fn, dead)
	return true
}

// mergeBlocks folds a block into its predecessor when that predecessor
// branches only to it and it has no other predecessor.
func mergeBlocks(fn *Function) bool {
	entry := fn.Entry()
	for _, bb := range fn.Blocks {
		br, ok := bb.Terminator.(*TermBranch)
		if !ok {
			continue
		}
		succ := br.Target
		if succ == bb || succ == entry || len(succ.Preds) != 1 {
			continue
		}
		for _, phi := range succ.Phis() {
			ReplaceAllUses(fn, phi.Result, phi.Operands[0])
		}
		rest := succ.Instructions[len(succ.Phis()):]
		bb.Instructions = append(bb.Instructions, rest...)
		bb.Terminator = succ.Terminator
		for _, next := range Successors(succ.Terminator) {
			for _, phi := range next.Phis() {
				for i, from := range phi.Incoming {
					if from == succ {
						phi.Incoming[i] = bb
					}
				}
			}
		}
		removeBlock(fn, succ)
		return true
	}
	return false
}

// forwardEmptyBlocks redirects the predecessors of a block that only
// branches elsewhere straight to its target.
func forwardEmptyBlocks(fn *Function) bool {
	entry := fn.Entry()
	for _, bb := range fn.Blocks {
		br, ok := bb.Terminator.(*TermBranch)
		if bb == entry || !ok || len(bb.Instructions) > 0 || len(bb.Preds) == 0 {
			continue
		}
		target := br.Target
		if target == bb {
			continue
		}
		phis := target.Phis()
		if len(phis) > 0 && !canForwardInto(bb, target) {
			continue
		}
		for _, phi := range phis {
			v, _ := phi.IncomingFor(bb)
			phi.removeIncoming(bb)
			for _, p := range bb.Preds {
				phi.AddIncoming(v, p)
			}
		}
		for _, p := range bb.Preds {
			retarget(p.Terminator, bb, target)
		}
		return true
	}
	return false
}

// canForwardInto reports whether the predecessors of bb can branch directly
// to target without creating two phi entries for one block.
func canForwardInto(bb, target *BasicBlock) bool {
	seen := make(map[*BasicBlock]bool)
	for _, p := range bb.Preds {
		if seen[p] {
			return false
		}
		seen[p] = true
	}
	for _, p := range target.Preds {
		if seen[p] {
			return false
		}
	}
	return true
}

func retarget(term Terminator, from, to *BasicBlock) {
	switch t := term.(type) {
	case *TermBranch:
		if t.Target == from {
			t.Target = to
		}
	case *TermCondBranch:
		if t.TrueBlk == from {
			t.TrueBlk = to
		}
		if t.FalseBlk == from {
			t.FalseBlk = to
		}
	}
}

func removeBlock(fn *Function, dead *BasicBlock) {
	for i, bb := range fn.Blocks {
		if bb == dead {
			fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
			return
		}
	}
}
