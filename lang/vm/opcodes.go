// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vm implements the register-based virtual machine that executes
// compiled Kaleidoscope functions.
//
// Every register holds a float64. Each function gets its own register file,
// sized by the compiler, and its own constant pool. Instructions use an
// 8-byte fixed-width 3-address encoding:
//
//	[opcode:8][_:8][a:16][b:16][c:16]
//
// with all fields little-endian. Jump targets are instruction indices.
package vm

import "encoding/binary"

// Opcode is an 8-bit instruction code.
type Opcode uint8

const (
	// ---- Load / move -------------------------------------------------------

	// OpLoadConst loads R[a] = Constants[b].
	OpLoadConst Opcode = iota
	// OpMove performs R[a] = R[b].
	OpMove

	// ---- Arithmetic --------------------------------------------------------

	// OpAdd performs R[a] = R[b] + R[c].
	OpAdd
	// OpSub performs R[a] = R[b] - R[c].
	OpSub
	// OpMul performs R[a] = R[b] * R[c].
	OpMul

	// ---- Comparison (result in R[a] as 0 or 1) ----------------------------

	// OpCmpULT sets R[a] = 1 if R[b] < R[c] or either is NaN, else 0.
	OpCmpULT
	// OpCmpONE sets R[a] = 1 if R[b] != R[c] and neither is NaN, else 0.
	OpCmpONE

	// ---- Control flow ------------------------------------------------------

	// OpJump sets PC = a.
	OpJump
	// OpJumpIfNot sets PC = b if R[a] == 0.
	OpJumpIfNot
	// OpArg queues R[a] as the next argument of the following OpCall.
	OpArg
	// OpCall invokes Callees[b] with the c queued arguments and stores the
	// result in R[a].
	OpCall
	// OpReturn ends the current function, returning R[a] to the caller.
	OpReturn

	// opcodeCount must remain the last constant.
	opcodeCount
)

// InstrSize is the width of an encoded instruction in bytes.
const InstrSize = 8

// MaxOperand is the largest value an operand field can hold.
const MaxOperand = 1<<16 - 1

type opcodeInfo struct {
	name string
	// operands is the number of meaningful operand fields.
	operands int
}

var opcodeTable = [opcodeCount]opcodeInfo{
	OpLoadConst: {"LOAD_CONST", 2},
	OpMove:      {"MOVE", 2},
	OpAdd:       {"ADD", 3},
	OpSub:       {"SUB", 3},
	OpMul:       {"MUL", 3},
	OpCmpULT:    {"CMP_ULT", 3},
	OpCmpONE:    {"CMP_ONE", 3},
	OpJump:      {"JUMP", 1},
	OpJumpIfNot: {"JUMP_IF_NOT", 2},
	OpArg:       {"ARG", 1},
	OpCall:      {"CALL", 3},
	OpReturn:    {"RETURN", 1},
}

// String returns the mnemonic name of the opcode.
func (op Opcode) String() string {
	if int(op) >= len(opcodeTable) {
		return "UNKNOWN"
	}
	return opcodeTable[op].name
}

// Operands returns the number of operand fields the opcode uses.
func (op Opcode) Operands() int {
	if int(op) >= len(opcodeTable) {
		return 0
	}
	return opcodeTable[op].operands
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// IsJump reports whether the opcode transfers control within a function.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfNot
}

// JumpTarget returns the target operand of a jump.
func JumpTarget(op Opcode, a, b uint16) uint16 {
	if op == OpJumpIfNot {
		return b
	}
	return a
}

// Encode appends one instruction to code.
func Encode(code []byte, op Opcode, a, b, c uint16) []byte {
	var buf [InstrSize]byte
	buf[0] = byte(op)
	binary.LittleEndian.PutUint16(buf[2:], a)
	binary.LittleEndian.PutUint16(buf[4:], b)
	binary.LittleEndian.PutUint16(buf[6:], c)
	return append(code, buf[:]...)
}

// Decode reads the instruction at index pc. The caller checks bounds.
func Decode(code []byte, pc int) (op Opcode, a, b, c uint16) {
	word := code[pc*InstrSize : (pc+1)*InstrSize]
	return Opcode(word[0]),
		binary.LittleEndian.Uint16(word[2:]),
		binary.LittleEndian.Uint16(word[4:]),
		binary.LittleEndian.Uint16(word[6:])
}

// Patch rewrites operand field i (0 for a, 1 for b, 2 for c) of the
// instruction at index pc.
func Patch(code []byte, pc, i int, v uint16) {
	off := pc*InstrSize + 2 + 2*i
	binary.LittleEndian.PutUint16(code[off:], v)
}
