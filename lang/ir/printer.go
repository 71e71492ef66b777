// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String renders the module in textual IR form.
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; ModuleID = '%s'\n", m.Name)
	if m.DataLayout != "" {
		fmt.Fprintf(&sb, "target datalayout = \"%s\"\n", m.DataLayout)
	}
	for _, fn := range m.Functions {
		sb.WriteByte('\n')
		sb.WriteString(fn.String())
	}
	return sb.String()
}

// String renders a definition or declaration.
func (f *Function) String() string {
	var sb strings.Builder
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s %s", p.Type, p)
	}
	if f.IsDeclaration() {
		fmt.Fprintf(&sb, "declare %s @%s(%s)\n", f.ReturnType, f.Name, strings.Join(params, ", "))
		return sb.String()
	}
	fmt.Fprintf(&sb, "define %s @%s(%s) {\n", f.ReturnType, f.Name, strings.Join(params, ", "))
	for i, bb := range f.Blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		label := bb.Label + ":"
		if i > 0 && len(bb.Preds) > 0 {
			preds := make([]string, len(bb.Preds))
			for j, p := range bb.Preds {
				preds[j] = "%" + p.Label
			}
			label = fmt.Sprintf("%-50s; preds = %s", label, strings.Join(preds, ", "))
		}
		sb.WriteString(label)
		sb.WriteByte('\n')
		for _, inst := range bb.Instructions {
			sb.WriteString("  ")
			sb.WriteString(f.formatInstruction(inst))
			sb.WriteByte('\n')
		}
		if bb.Terminator != nil {
			sb.WriteString("  ")
			sb.WriteString(bb.Terminator.String())
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// String renders the instruction without resolving constants.
func (inst *Instruction) String() string {
	if inst.Op == OpConst {
		return fmt.Sprintf("%s = const %s $%d", inst.Result, inst.Result.Type, inst.ConstIdx)
	}
	return formatOp(inst)
}

func (f *Function) formatInstruction(inst *Instruction) string {
	if inst.Op == OpConst && f.Module != nil && inst.ConstIdx < len(f.Module.Constants) {
		v := f.Module.Constants[inst.ConstIdx]
		return fmt.Sprintf("%s = const %s %s", inst.Result, inst.Result.Type, FormatConstant(inst.Result.Type, v))
	}
	return formatOp(inst)
}

func formatOp(inst *Instruction) string {
	switch inst.Op {
	case OpPhi:
		pairs := make([]string, len(inst.Operands))
		for i, op := range inst.Operands {
			label := "<nil>"
			if i < len(inst.Incoming) && inst.Incoming[i] != nil {
				label = inst.Incoming[i].Label
			}
			pairs[i] = fmt.Sprintf("[ %s, %%%s ]", op, label)
		}
		return fmt.Sprintf("%s = phi %s %s", inst.Result, inst.Result.Type, strings.Join(pairs, ", "))

	case OpFAdd, OpFSub, OpFMul, OpFCmpULT, OpFCmpONE:
		return fmt.Sprintf("%s = %s %s %s, %s", inst.Result, inst.Op, operandType(inst, 0), operand(inst, 0), operand(inst, 1))

	case OpUIToFP:
		return fmt.Sprintf("%s = uitofp %s %s to %s", inst.Result, operandType(inst, 0), operand(inst, 0), inst.Result.Type)

	case OpCall:
		args := make([]string, len(inst.Operands))
		for i, a := range inst.Operands {
			args[i] = fmt.Sprintf("%s %s", a.Type, a)
		}
		return fmt.Sprintf("%s = call %s @%s(%s)", inst.Result, inst.Result.Type, inst.FuncName, strings.Join(args, ", "))
	}
	return fmt.Sprintf("%s = %s", inst.Result, inst.Op)
}

func operand(inst *Instruction, i int) string {
	if i < len(inst.Operands) {
		return inst.Operands[i].String()
	}
	return "<missing>"
}

func operandType(inst *Instruction, i int) Type {
	if i < len(inst.Operands) {
		return inst.Operands[i].Type
	}
	return TypeVoid
}

// FormatConstant renders a constant of type typ. Doubles use exponent form
// when it round-trips exactly and hexadecimal bits otherwise.
func FormatConstant(typ Type, v float64) string {
	if typ == TypeBool {
		if v != 0 {
			return "true"
		}
		return "false"
	}
	if !math.IsInf(v, 0) && !math.IsNaN(v) {
		s := strconv.FormatFloat(v, 'e', 6, 64)
		if back, err := strconv.ParseFloat(s, 64); err == nil && math.Float64bits(back) == math.Float64bits(v) {
			return s
		}
	}
	return fmt.Sprintf("0x%016X", math.Float64bits(v))
}
