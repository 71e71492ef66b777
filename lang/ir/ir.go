// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ir defines the SSA-form Intermediate Representation for the
// Kaleidoscope language.
//
// The IR is a static single assignment (SSA) form that serves as the bridge
// between the AST and bytecode generation. Every user-visible value is a
// double; comparisons produce an i1 that is widened back to double. Control
// flow merges through phi instructions whose incoming values are paired with
// predecessor blocks.
package ir

import (
	"fmt"
	"math"
)

// Module is a compilation unit: a set of functions and a constant pool.
type Module struct {
	Name       string
	DataLayout string
	Functions  []*Function
	Constants  []float64
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Function returns the function with the given name, or nil.
func (m *Module) Function(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Declare adds a body-less function with double parameters and a double
// result. The caller is responsible for name uniqueness.
func (m *Module) Declare(name string, params []string) *Function {
	fn := &Function{
		Name:       name,
		Module:     m,
		ReturnType: TypeDouble,
		names:      make(map[string]int),
	}
	for _, p := range params {
		fn.Params = append(fn.Params, fn.NewValue(TypeDouble, p))
	}
	m.Functions = append(m.Functions, fn)
	return fn
}

// RemoveFunction erases fn from the module.
func (m *Module) RemoveFunction(fn *Function) {
	for i, f := range m.Functions {
		if f == fn {
			m.Functions = append(m.Functions[:i], m.Functions[i+1:]...)
			fn.Module = nil
			return
		}
	}
}

// AddConstant interns v in the constant pool and returns its index. Constants
// are compared bit for bit so 0 and -0 stay distinct.
func (m *Module) AddConstant(v float64) int {
	bits := math.Float64bits(v)
	for i, c := range m.Constants {
		if math.Float64bits(c) == bits {
			return i
		}
	}
	m.Constants = append(m.Constants, v)
	return len(m.Constants) - 1
}

// Function represents a single function in SSA form. A function without
// blocks is a declaration.
type Function struct {
	Name       string
	Module     *Module
	Params     []Value
	ReturnType Type
	Blocks     []*BasicBlock
	Locals     int // number of values allocated

	nextID int
	names  map[string]int // used names -> next suffix
}

// IsDeclaration reports whether the function has no body.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Arity returns the number of parameters.
func (f *Function) Arity() int { return len(f.Params) }

// Entry returns the entry block, or nil for a declaration.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewValue allocates a fresh SSA value. Names are made unique within the
// function by appending a counter; an empty name yields an unnamed value.
func (f *Function) NewValue(typ Type, name string) Value {
	v := Value{ID: f.nextID, Type: typ, Name: f.uniqueName(name)}
	f.nextID++
	f.Locals++
	return v
}

// RenameParam changes the debug name of parameter i.
func (f *Function) RenameParam(i int, name string) {
	f.Params[i].Name = f.uniqueName(name)
}

func (f *Function) uniqueName(name string) string {
	if name == "" {
		return ""
	}
	if f.names == nil {
		f.names = make(map[string]int)
	}
	n, taken := f.names[name]
	if !taken {
		f.names[name] = 1
		return name
	}
	for {
		candidate := fmt.Sprintf("%s%d", name, n)
		n++
		if _, used := f.names[candidate]; !used {
			f.names[name] = n
			f.names[candidate] = 1
			return candidate
		}
	}
}

// RebuildCFG recomputes the predecessor and successor lists of every block
// from the terminators.
func (f *Function) RebuildCFG() {
	for _, bb := range f.Blocks {
		bb.Preds = bb.Preds[:0]
		bb.Succs = bb.Succs[:0]
	}
	for _, bb := range f.Blocks {
		for _, succ := range Successors(bb.Terminator) {
			bb.Succs = append(bb.Succs, succ)
			succ.Preds = append(succ.Preds, bb)
		}
	}
}

// BasicBlock is a straight-line sequence of instructions with a terminator.
// Phi instructions, if any, come first.
type BasicBlock struct {
	Label        string
	Instructions []*Instruction
	Terminator   Terminator
	Preds        []*BasicBlock
	Succs        []*BasicBlock
}

// Phis returns the leading phi instructions of the block.
func (bb *BasicBlock) Phis() []*Instruction {
	n := 0
	for n < len(bb.Instructions) && bb.Instructions[n].Op == OpPhi {
		n++
	}
	return bb.Instructions[:n]
}

// Type is the type of an SSA value.
type Type int

// Predefined types.
const (
	TypeVoid Type = iota
	TypeBool
	TypeDouble
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeBool:
		return "i1"
	case TypeDouble:
		return "double"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Value represents an SSA value (virtual register).
type Value struct {
	ID   int
	Type Type
	Name string // optional debug name
}

func (v Value) String() string {
	if v.Name != "" {
		return "%" + v.Name
	}
	return fmt.Sprintf("%%%d", v.ID)
}

// Op is an SSA instruction opcode.
type Op int

const (
	// Value operations
	OpConst Op = iota // load constant from the module pool
	OpPhi             // SSA phi function

	// Arithmetic
	OpFAdd
	OpFSub
	OpFMul

	// Comparison (i1 result)
	OpFCmpULT // unordered or less than
	OpFCmpONE // ordered and not equal

	// Conversion
	OpUIToFP // i1 -> double

	// Calls
	OpCall
)

var opNames = map[Op]string{
	OpConst: "const", OpPhi: "phi",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul",
	OpFCmpULT: "fcmp ult", OpFCmpONE: "fcmp one",
	OpUIToFP: "uitofp",
	OpCall:   "call",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", op)
}

// IsCommutative reports whether operand order does not matter.
func (op Op) IsCommutative() bool {
	return op == OpFAdd || op == OpFMul || op == OpFCmpONE
}

// hasSideEffects returns true if an op has observable side effects.
func hasSideEffects(op Op) bool {
	return op == OpCall
}

// Instruction is a single SSA instruction.
type Instruction struct {
	Op       Op
	Result   Value         // destination value
	Operands []Value       // source values
	Incoming []*BasicBlock // predecessor per operand (for OpPhi)
	ConstIdx int           // index into constant pool (for OpConst)
	FuncName string        // callee (for OpCall)
}

// AddIncoming adds a (value, predecessor) pair to a phi.
func (inst *Instruction) AddIncoming(v Value, from *BasicBlock) {
	inst.Operands = append(inst.Operands, v)
	inst.Incoming = append(inst.Incoming, from)
}

// IncomingFor returns the phi operand flowing in from block from.
func (inst *Instruction) IncomingFor(from *BasicBlock) (Value, bool) {
	for i, bb := range inst.Incoming {
		if bb == from {
			return inst.Operands[i], true
		}
	}
	return Value{}, false
}

// removeIncoming drops every phi entry arriving from block from.
func (inst *Instruction) removeIncoming(from *BasicBlock) {
	ops, blocks := inst.Operands[:0], inst.Incoming[:0]
	for i, bb := range inst.Incoming {
		if bb != from {
			ops = append(ops, inst.Operands[i])
			blocks = append(blocks, bb)
		}
	}
	inst.Operands, inst.Incoming = ops, blocks
}

// Terminator ends a basic block.
type Terminator interface {
	terminator()
	String() string
}

// TermReturn returns a value from the function.
type TermReturn struct {
	Value Value
}

func (t *TermReturn) terminator() {}
func (t *TermReturn) String() string {
	return fmt.Sprintf("ret %s %s", t.Value.Type, t.Value)
}

// TermBranch unconditionally branches to a block.
type TermBranch struct {
	Target *BasicBlock
}

func (t *TermBranch) terminator() {}
func (t *TermBranch) String() string {
	return fmt.Sprintf("br label %%%s", t.Target.Label)
}

// TermCondBranch conditionally branches on an i1.
type TermCondBranch struct {
	Cond     Value
	TrueBlk  *BasicBlock
	FalseBlk *BasicBlock
}

func (t *TermCondBranch) terminator() {}
func (t *TermCondBranch) String() string {
	return fmt.Sprintf("br i1 %s, label %%%s, label %%%s", t.Cond, t.TrueBlk.Label, t.FalseBlk.Label)
}

// Successors returns the blocks a terminator can transfer control to.
func Successors(term Terminator) []*BasicBlock {
	switch t := term.(type) {
	case *TermBranch:
		return []*BasicBlock{t.Target}
	case *TermCondBranch:
		return []*BasicBlock{t.TrueBlk, t.FalseBlk}
	}
	return nil
}

// terminatorOperands returns pointers to the values a terminator reads.
func terminatorOperands(term Terminator) []*Value {
	switch t := term.(type) {
	case *TermReturn:
		return []*Value{&t.Value}
	case *TermCondBranch:
		return []*Value{&t.Cond}
	}
	return nil
}

// ReplaceAllUses rewrites every use of old in fn to repl.
func ReplaceAllUses(fn *Function, old, repl Value) {
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			for i := range inst.Operands {
				if inst.Operands[i].ID == old.ID {
					inst.Operands[i] = repl
				}
			}
		}
		for _, op := range terminatorOperands(bb.Terminator) {
			if op.ID == old.ID {
				*op = repl
			}
		}
	}
}

// useCounts returns the number of uses of each value ID in fn.
func useCounts(fn *Function) map[int]int {
	uses := make(map[int]int)
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			for _, op := range inst.Operands {
				uses[op.ID]++
			}
		}
		for _, op := range terminatorOperands(bb.Terminator) {
			uses[op.ID]++
		}
	}
	return uses
}
