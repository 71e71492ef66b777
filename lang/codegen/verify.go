// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package codegen includes bytecode verification.
//
// The verifier checks compiled functions before they are handed to the
// engine, so that code generator bugs surface as errors rather than as
// faults at run time.
package codegen

import (
	"fmt"

	"github.com/probechain/go-kaleidoscope/lang/vm"
)

// VerifyError describes a bytecode verification failure.
type VerifyError struct {
	Func    string
	PC      int
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error in %s at %d: %s", e.Func, e.PC, e.Message)
}

// Verify checks a compiled function for:
//  1. Unknown opcodes and truncated code
//  2. Out-of-bounds register, constant and callee indices
//  3. Jump targets outside the function
//  4. Calls whose argument count differs from the queued OpArg count
//  5. Control falling off the end of the function
func Verify(fn *vm.Function) []VerifyError {
	var errs []VerifyError
	report := func(pc int, format string, args ...interface{}) {
		errs = append(errs, VerifyError{Func: fn.Name, PC: pc, Message: fmt.Sprintf(format, args...)})
	}

	if len(fn.Code)%vm.InstrSize != 0 {
		report(fn.Len(), "truncated instruction")
		return errs
	}
	if fn.Len() == 0 {
		report(0, "empty function")
		return errs
	}
	if fn.Params > fn.Registers {
		report(0, "%d parameters but only %d registers", fn.Params, fn.Registers)
	}

	reg := func(pc int, r uint16) {
		if int(r) >= fn.Registers {
			report(pc, "register %d out of bounds (%d registers)", r, fn.Registers)
		}
	}
	target := func(pc int, t uint16) {
		if int(t) >= fn.Len() {
			report(pc, "jump target %d out of bounds", t)
		}
	}

	pending := 0
	for pc := 0; pc < fn.Len(); pc++ {
		op, a, b, c := vm.Decode(fn.Code, pc)
		if !op.Valid() {
			report(pc, "unknown opcode: %d", op)
			continue
		}
		if op != vm.OpArg && op != vm.OpCall && pending > 0 {
			report(pc, "%d arguments queued before %s", pending, op)
			pending = 0
		}

		switch op {
		case vm.OpLoadConst:
			reg(pc, a)
			if int(b) >= len(fn.Constants) {
				report(pc, "constant index %d out of bounds (pool size %d)", b, len(fn.Constants))
			}
		case vm.OpMove:
			reg(pc, a)
			reg(pc, b)
		case vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpCmpULT, vm.OpCmpONE:
			reg(pc, a)
			reg(pc, b)
			reg(pc, c)
		case vm.OpJump:
			target(pc, a)
		case vm.OpJumpIfNot:
			reg(pc, a)
			target(pc, b)
		case vm.OpArg:
			reg(pc, a)
			pending++
		case vm.OpCall:
			reg(pc, a)
			if int(b) >= len(fn.Callees) {
				report(pc, "callee index %d out of bounds (%d callees)", b, len(fn.Callees))
			}
			if int(c) != pending {
				report(pc, "call with %d arguments but %d queued", c, pending)
			}
			pending = 0
		case vm.OpReturn:
			reg(pc, a)
		}
	}

	last, _, _, _ := vm.Decode(fn.Code, fn.Len()-1)
	if last != vm.OpReturn && last != vm.OpJump {
		report(fn.Len()-1, "control falls off the end")
	}
	return errs
}
