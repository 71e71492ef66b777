// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

// Builder constructs SSA IR at a movable insertion point.
type Builder struct {
	module   *Module
	function *Function
	block    *BasicBlock
}

// NewBuilder creates a new IR builder emitting into m.
func NewBuilder(m *Module) *Builder {
	return &Builder{module: m}
}

// Module returns the module being built.
func (b *Builder) Module() *Module {
	return b.module
}

// SetModule redirects the builder to a new module and clears the insertion
// point.
func (b *Builder) SetModule(m *Module) {
	b.module = m
	b.function = nil
	b.block = nil
}

// StartFunction makes fn the current function.
func (b *Builder) StartFunction(fn *Function) {
	b.function = fn
	b.block = nil
}

// Function returns the current function.
func (b *Builder) Function() *Function {
	return b.function
}

// NewBlock creates a new basic block at the end of the current function.
func (b *Builder) NewBlock(label string) *BasicBlock {
	bb := b.CreateBlock(label)
	b.AppendBlock(bb)
	return bb
}

// CreateBlock creates a block that is not yet part of the function layout.
// Its label is reserved in the function's namespace.
func (b *Builder) CreateBlock(label string) *BasicBlock {
	return &BasicBlock{Label: b.function.uniqueName(label)}
}

// AppendBlock places a block created by CreateBlock at the end of the
// current function.
func (b *Builder) AppendBlock(bb *BasicBlock) {
	b.function.Blocks = append(b.function.Blocks, bb)
}

// SetBlock sets the current insertion point.
func (b *Builder) SetBlock(bb *BasicBlock) {
	b.block = bb
}

// Block returns the current insertion block.
func (b *Builder) Block() *BasicBlock {
	return b.block
}

// emit appends an instruction to the current block and returns its result.
func (b *Builder) emit(inst *Instruction) Value {
	b.block.Instructions = append(b.block.Instructions, inst)
	return inst.Result
}

// EmitConst loads a floating point constant.
func (b *Builder) EmitConst(v float64) Value {
	return b.emit(&Instruction{
		Op:       OpConst,
		Result:   b.function.NewValue(TypeDouble, ""),
		ConstIdx: b.module.AddConstant(v),
	})
}

// EmitBinary emits a two-operand instruction. Comparisons produce an i1,
// arithmetic a double.
func (b *Builder) EmitBinary(op Op, lhs, rhs Value, name string) Value {
	typ := TypeDouble
	if op == OpFCmpULT || op == OpFCmpONE {
		typ = TypeBool
	}
	return b.emit(&Instruction{
		Op:       op,
		Result:   b.function.NewValue(typ, name),
		Operands: []Value{lhs, rhs},
	})
}

// EmitUIToFP widens an i1 to a double (0.0 or 1.0).
func (b *Builder) EmitUIToFP(v Value, name string) Value {
	return b.emit(&Instruction{
		Op:       OpUIToFP,
		Result:   b.function.NewValue(TypeDouble, name),
		Operands: []Value{v},
	})
}

// EmitCall emits a function call.
func (b *Builder) EmitCall(callee *Function, args []Value, name string) Value {
	return b.emit(&Instruction{
		Op:       OpCall,
		Result:   b.function.NewValue(callee.ReturnType, name),
		Operands: args,
		FuncName: callee.Name,
	})
}

// EmitPhi creates a phi instruction for merging values at join points.
// Incoming pairs are added by the caller with AddIncoming.
func (b *Builder) EmitPhi(typ Type, name string) *Instruction {
	inst := &Instruction{
		Op:     OpPhi,
		Result: b.function.NewValue(typ, name),
	}
	// Phi instructions go after any phis already at the start of the block.
	n := len(b.block.Phis())
	b.block.Instructions = append(b.block.Instructions, nil)
	copy(b.block.Instructions[n+1:], b.block.Instructions[n:])
	b.block.Instructions[n] = inst
	return inst
}

// EmitBranch sets an unconditional branch terminator.
func (b *Builder) EmitBranch(target *BasicBlock) {
	b.block.Terminator = &TermBranch{Target: target}
	b.block.Succs = append(b.block.Succs, target)
	target.Preds = append(target.Preds, b.block)
}

// EmitCondBranch sets a conditional branch terminator.
func (b *Builder) EmitCondBranch(cond Value, trueBlk, falseBlk *BasicBlock) {
	b.block.Terminator = &TermCondBranch{
		Cond:     cond,
		TrueBlk:  trueBlk,
		FalseBlk: falseBlk,
	}
	b.block.Succs = append(b.block.Succs, trueBlk, falseBlk)
	trueBlk.Preds = append(trueBlk.Preds, b.block)
	falseBlk.Preds = append(falseBlk.Preds, b.block)
}

// EmitReturn sets a return terminator.
func (b *Builder) EmitReturn(v Value) {
	b.block.Terminator = &TermReturn{Value: v}
}
