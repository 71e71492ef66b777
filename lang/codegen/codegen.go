// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// Package codegen translates SSA IR to VM bytecode.
//
// Each SSA value gets its own register; parameters occupy R[0]..R[n-1].
// Phi instructions are eliminated by copies placed on the incoming edges.
// Copies for a single phi are direct moves; multiple phis on the same edge go
// through temporaries so that every source is read before any phi register
// is written.
package codegen

import (
	"fmt"
	"math"

	"github.com/probechain/go-kaleidoscope/lang/ir"
	"github.com/probechain/go-kaleidoscope/lang/vm"
)

// Compile translates every function with a body in m. Declarations become
// callee references resolved at run time.
func Compile(m *ir.Module) ([]*vm.Function, error) {
	var out []*vm.Function
	for _, fn := range m.Functions {
		if fn.IsDeclaration() {
			continue
		}
		g := New(m)
		code, err := g.Generate(fn)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		out = append(out, code)
	}
	return out, nil
}

// Generator translates one IR function at a time.
type Generator struct {
	module *ir.Module
	fn     *ir.Function

	code      []byte
	constants []float64
	constMap  map[uint64]uint16 // float bits -> constant index
	callees   []string
	calleeMap map[string]uint16

	labels  map[*ir.BasicBlock]int // block -> instruction index
	patches []patchEntry           // forward references to patch
	regMap  map[int]int            // SSA value ID -> register number
	temps   []int                  // scratch registers for parallel copies
	nextReg int
}

type patchEntry struct {
	pc     int           // instruction to patch
	field  int           // operand field holding the target
	target *ir.BasicBlock // destination block
}

// New creates a bytecode generator for functions of m.
func New(m *ir.Module) *Generator {
	return &Generator{module: m}
}

func (g *Generator) reset(fn *ir.Function) {
	g.fn = fn
	g.code = nil
	g.constants = nil
	g.constMap = make(map[uint64]uint16)
	g.callees = nil
	g.calleeMap = make(map[string]uint16)
	g.labels = make(map[*ir.BasicBlock]int)
	g.patches = nil
	g.regMap = make(map[int]int)
	g.temps = nil
	g.nextReg = 0
}

// Generate compiles fn to a VM function.
func (g *Generator) Generate(fn *ir.Function) (*vm.Function, error) {
	if fn.IsDeclaration() {
		return nil, fmt.Errorf("cannot compile declaration %s", fn.Name)
	}
	g.reset(fn)

	// Map parameters to registers.
	for _, p := range fn.Params {
		g.allocReg(p)
	}

	// Generate blocks in layout order.
	for i, block := range fn.Blocks {
		g.labels[block] = g.pc()

		for _, inst := range block.Instructions {
			if err := g.generateInstruction(inst); err != nil {
				return nil, err
			}
		}
		var next *ir.BasicBlock
		if i+1 < len(fn.Blocks) {
			next = fn.Blocks[i+1]
		}
		if err := g.generateTerminator(block, next); err != nil {
			return nil, err
		}
	}

	// Patch forward references.
	for _, p := range g.patches {
		target, ok := g.labels[p.target]
		if !ok {
			return nil, fmt.Errorf("branch to block %%%s outside the function", p.target.Label)
		}
		vm.Patch(g.code, p.pc, p.field, uint16(target))
	}

	switch {
	case g.nextReg > vm.MaxOperand+1:
		return nil, fmt.Errorf("too many registers (%d)", g.nextReg)
	case len(g.constants) > vm.MaxOperand+1:
		return nil, fmt.Errorf("too many constants (%d)", len(g.constants))
	case len(g.callees) > vm.MaxOperand+1:
		return nil, fmt.Errorf("too many callees (%d)", len(g.callees))
	case len(g.code)/vm.InstrSize > vm.MaxOperand+1:
		return nil, fmt.Errorf("function too long (%d instructions)", len(g.code)/vm.InstrSize)
	}

	return &vm.Function{
		Name:      fn.Name,
		Params:    len(fn.Params),
		Registers: g.nextReg,
		Code:      g.code,
		Constants: g.constants,
		Callees:   g.callees,
	}, nil
}

func (g *Generator) pc() int {
	return len(g.code) / vm.InstrSize
}

func (g *Generator) allocReg(v ir.Value) uint16 {
	if r, ok := g.regMap[v.ID]; ok {
		return uint16(r)
	}
	r := g.nextReg
	g.regMap[v.ID] = r
	g.nextReg++
	return uint16(r)
}

// temp returns the i-th scratch register.
func (g *Generator) temp(i int) uint16 {
	for len(g.temps) <= i {
		g.temps = append(g.temps, g.nextReg)
		g.nextReg++
	}
	return uint16(g.temps[i])
}

func (g *Generator) constIndex(v float64) uint16 {
	bits := math.Float64bits(v)
	if idx, ok := g.constMap[bits]; ok {
		return idx
	}
	idx := uint16(len(g.constants))
	g.constMap[bits] = idx
	g.constants = append(g.constants, v)
	return idx
}

func (g *Generator) calleeIndex(name string) uint16 {
	if idx, ok := g.calleeMap[name]; ok {
		return idx
	}
	idx := uint16(len(g.callees))
	g.calleeMap[name] = idx
	g.callees = append(g.callees, name)
	return idx
}

// emit appends an instruction and returns its index.
func (g *Generator) emit(op vm.Opcode, a, b, c uint16) int {
	pc := g.pc()
	g.code = vm.Encode(g.code, op, a, b, c)
	return pc
}

var binaryOps = map[ir.Op]vm.Opcode{
	ir.OpFAdd:    vm.OpAdd,
	ir.OpFSub:    vm.OpSub,
	ir.OpFMul:    vm.OpMul,
	ir.OpFCmpULT: vm.OpCmpULT,
	ir.OpFCmpONE: vm.OpCmpONE,
}

func (g *Generator) generateInstruction(inst *ir.Instruction) error {
	a := g.allocReg(inst.Result)

	switch inst.Op {
	case ir.OpConst:
		if inst.ConstIdx < 0 || inst.ConstIdx >= len(g.module.Constants) {
			return fmt.Errorf("constant $%d out of range", inst.ConstIdx)
		}
		g.emit(vm.OpLoadConst, a, g.constIndex(g.module.Constants[inst.ConstIdx]), 0)

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFCmpULT, ir.OpFCmpONE:
		g.emit(binaryOps[inst.Op], a, g.allocReg(inst.Operands[0]), g.allocReg(inst.Operands[1]))

	case ir.OpUIToFP:
		// Booleans are already held as 0.0 or 1.0.
		g.emit(vm.OpMove, a, g.allocReg(inst.Operands[0]), 0)

	case ir.OpCall:
		for _, arg := range inst.Operands {
			g.emit(vm.OpArg, g.allocReg(arg), 0, 0)
		}
		g.emit(vm.OpCall, a, g.calleeIndex(inst.FuncName), uint16(len(inst.Operands)))

	case ir.OpPhi:
		// Filled by copies on the incoming edges.

	default:
		return fmt.Errorf("unsupported IR op: %s", inst.Op)
	}
	return nil
}

// generateTerminator ends block. next is the block laid out after it, which
// an unconditional branch may fall through to.
func (g *Generator) generateTerminator(block, next *ir.BasicBlock) error {
	switch t := block.Terminator.(type) {
	case *ir.TermReturn:
		g.emit(vm.OpReturn, g.allocReg(t.Value), 0, 0)

	case *ir.TermBranch:
		if err := g.edgeCopies(block, t.Target); err != nil {
			return err
		}
		if t.Target != next {
			g.jumpTo(t.Target)
		}

	case *ir.TermCondBranch:
		cond := g.allocReg(t.Cond)
		if len(t.FalseBlk.Phis()) == 0 {
			g.patches = append(g.patches, patchEntry{pc: g.pc(), field: 1, target: t.FalseBlk})
			g.emit(vm.OpJumpIfNot, cond, 0, 0)
			if err := g.edgeCopies(block, t.TrueBlk); err != nil {
				return err
			}
			if t.TrueBlk != next {
				g.jumpTo(t.TrueBlk)
			}
			return nil
		}
		// The false edge needs copies of its own: branch to a stub.
		skip := g.emit(vm.OpJumpIfNot, cond, 0, 0)
		if err := g.edgeCopies(block, t.TrueBlk); err != nil {
			return err
		}
		g.jumpTo(t.TrueBlk)
		vm.Patch(g.code, skip, 1, uint16(g.pc()))
		if err := g.edgeCopies(block, t.FalseBlk); err != nil {
			return err
		}
		if t.FalseBlk != next {
			g.jumpTo(t.FalseBlk)
		}

	case nil:
		return fmt.Errorf("block %%%s has no terminator", block.Label)
	default:
		return fmt.Errorf("unsupported terminator: %T", t)
	}
	return nil
}

func (g *Generator) jumpTo(target *ir.BasicBlock) {
	g.patches = append(g.patches, patchEntry{pc: g.pc(), field: 0, target: target})
	g.emit(vm.OpJump, 0, 0, 0)
}

// edgeCopies assigns the phis of to for the edge from -> to.
func (g *Generator) edgeCopies(from, to *ir.BasicBlock) error {
	type copyPair struct{ dst, src uint16 }
	var pairs []copyPair
	for _, phi := range to.Phis() {
		v, ok := phi.IncomingFor(from)
		if !ok {
			return fmt.Errorf("phi %s has no value for edge %%%s -> %%%s", phi.Result, from.Label, to.Label)
		}
		dst, src := g.allocReg(phi.Result), g.allocReg(v)
		if dst != src {
			pairs = append(pairs, copyPair{dst, src})
		}
	}
	if len(pairs) == 1 {
		g.emit(vm.OpMove, pairs[0].dst, pairs[0].src, 0)
		return nil
	}
	for i, p := range pairs {
		g.emit(vm.OpMove, g.temp(i), p.src, 0)
	}
	for i, p := range pairs {
		g.emit(vm.OpMove, p.dst, g.temp(i), 0)
	}
	return nil
}
