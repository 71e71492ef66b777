// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---- Error sentinels -------------------------------------------------------

// ErrOutOfGas is returned when an execution exhausts its gas limit.
var ErrOutOfGas = errors.New("vm: out of gas")

// ErrCallDepth is returned when nested calls exceed the configured depth.
var ErrCallDepth = errors.New("vm: call depth exceeded")

// ErrUnknownSymbol is returned when a callee cannot be resolved.
var ErrUnknownSymbol = errors.New("vm: unknown symbol")

// ErrArity is returned when a callee is invoked with the wrong number of
// arguments.
var ErrArity = errors.New("vm: argument count mismatch")

// ErrInvalidOpcode is returned when the fetched byte is not a known opcode.
var ErrInvalidOpcode = errors.New("vm: invalid opcode")

// ErrBadCode is returned for out-of-range operands and for control falling
// off the end of a function.
var ErrBadCode = errors.New("vm: malformed bytecode")

// RuntimeError locates a failure inside compiled code.
type RuntimeError struct {
	Func string
	PC   int
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%v (in %s at %d)", e.Err, e.Func, e.PC)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ---- Gas costs -------------------------------------------------------------

const (
	gasTrivial    uint64 = 1  // load, move, arg, return
	gasArithmetic uint64 = 3  // add, sub, compare
	gasMul        uint64 = 5  // multiply
	gasJump       uint64 = 3  // any branch
	gasCall       uint64 = 20 // compiled call overhead
	gasHost       uint64 = 10 // host call overhead
)

// DefaultMaxCallDepth bounds recursion when Config.MaxCallDepth is zero.
const DefaultMaxCallDepth = 10000

// ---- Callables -------------------------------------------------------------

// Callable is anything OpCall can invoke.
type Callable interface {
	Arity() int
}

// Function is a compiled function.
type Function struct {
	Name      string
	Params    int // arguments arrive in R[0]..R[Params-1]
	Registers int
	Code      []byte
	Constants []float64
	Callees   []string // symbol names referenced by OpCall
}

// Arity returns the number of parameters.
func (f *Function) Arity() int { return f.Params }

// Len returns the number of instructions.
func (f *Function) Len() int { return len(f.Code) / InstrSize }

// Disassemble renders the function one instruction per line.
func (f *Function) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: params=%d registers=%d\n", f.Name, f.Params, f.Registers)
	for pc := 0; pc < f.Len(); pc++ {
		op, a, b, c := Decode(f.Code, pc)
		fields := []uint16{a, b, c}[:op.Operands()]
		args := make([]string, len(fields))
		for i, v := range fields {
			args[i] = fmt.Sprint(v)
		}
		line := fmt.Sprintf("%04d  %-12s %s", pc, op, strings.Join(args, " "))
		switch {
		case op == OpLoadConst && int(b) < len(f.Constants):
			line = fmt.Sprintf("%-36s; %g", line, f.Constants[b])
		case op == OpCall && int(b) < len(f.Callees):
			line = fmt.Sprintf("%-36s; @%s", line, f.Callees[b])
		}
		sb.WriteString(strings.TrimRight(line, " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// HostFunc is a function implemented in Go.
type HostFunc struct {
	Name   string
	Params int
	Fn     func(args []float64) float64
}

// Arity returns the number of parameters.
func (h *HostFunc) Arity() int { return h.Params }

// Resolver maps callee names to callables.
type Resolver interface {
	Resolve(name string) (Callable, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) (Callable, error)

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) (Callable, error) { return f(name) }

// ---- VM --------------------------------------------------------------------

// Config bounds an execution.
type Config struct {
	GasLimit     uint64 // zero means unlimited
	MaxCallDepth int    // zero selects DefaultMaxCallDepth
}

// frame is one activation of a compiled function.
type frame struct {
	fn      *Function
	pc      int
	regs    []float64
	callees []Callable
	ret     uint16 // caller register receiving the pending call's result
}

// VM executes compiled functions. A VM is not safe for concurrent use;
// callee resolutions are cached for its lifetime.
type VM struct {
	cfg      Config
	resolver Resolver
	frames   []frame
	args     []float64 // arguments queued by OpArg
	gasUsed  uint64
	links    map[*Function][]Callable
}

// New creates a VM resolving callees through r.
func New(r Resolver, cfg Config) *VM {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	return &VM{
		cfg:      cfg,
		resolver: r,
		links:    make(map[*Function][]Callable),
	}
}

// GasUsed returns the total gas consumed so far.
func (vm *VM) GasUsed() uint64 { return vm.gasUsed }

// useGas deducts cost from the gas budget.
func (vm *VM) useGas(cost uint64) error {
	vm.gasUsed += cost
	if vm.cfg.GasLimit > 0 && vm.gasUsed > vm.cfg.GasLimit {
		return ErrOutOfGas
	}
	return nil
}

// link resolves the callee table of fn.
func (vm *VM) link(fn *Function) ([]Callable, error) {
	if callees, ok := vm.links[fn]; ok {
		return callees, nil
	}
	callees := make([]Callable, len(fn.Callees))
	for i, name := range fn.Callees {
		if vm.resolver == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, name)
		}
		c, err := vm.resolver.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, name)
		}
		callees[i] = c
	}
	vm.links[fn] = callees
	return callees, nil
}

// Call invokes fn with args and returns its result.
func (vm *VM) Call(fn Callable, args ...float64) (float64, error) {
	if fn.Arity() != len(args) {
		return 0, fmt.Errorf("%w: want %d, got %d", ErrArity, fn.Arity(), len(args))
	}
	switch fn := fn.(type) {
	case *HostFunc:
		if err := vm.useGas(gasHost); err != nil {
			return 0, err
		}
		return fn.Fn(append([]float64(nil), args...)), nil
	case *Function:
		vm.frames = vm.frames[:0]
		vm.args = vm.args[:0]
		if err := vm.push(fn, args); err != nil {
			return 0, err
		}
		return vm.run()
	default:
		return 0, fmt.Errorf("vm: cannot call %T", fn)
	}
}

// push activates fn with args copied into its first registers.
func (vm *VM) push(fn *Function, args []float64) error {
	if len(vm.frames) >= vm.cfg.MaxCallDepth {
		return ErrCallDepth
	}
	callees, err := vm.link(fn)
	if err != nil {
		return err
	}
	n := fn.Registers
	if n < len(args) {
		n = len(args)
	}
	regs := make([]float64, n)
	copy(regs, args)
	vm.frames = append(vm.frames, frame{fn: fn, regs: regs, callees: callees})
	return nil
}

// run executes until the outermost frame returns.
func (vm *VM) run() (float64, error) {
	for {
		fr := &vm.frames[len(vm.frames)-1]
		pc := fr.pc
		done, result, err := vm.step(fr)
		if err != nil {
			return 0, &RuntimeError{Func: fr.fn.Name, PC: pc, Err: err}
		}
		if done {
			return result, nil
		}
	}
}

func (fr *frame) reg(i uint16) (float64, error) {
	if int(i) >= len(fr.regs) {
		return 0, fmt.Errorf("%w: register %d", ErrBadCode, i)
	}
	return fr.regs[i], nil
}

func (fr *frame) set(i uint16, v float64) error {
	if int(i) >= len(fr.regs) {
		return fmt.Errorf("%w: register %d", ErrBadCode, i)
	}
	fr.regs[i] = v
	return nil
}

func (fr *frame) jump(target uint16) error {
	if int(target) >= fr.fn.Len() {
		return fmt.Errorf("%w: jump target %d", ErrBadCode, target)
	}
	fr.pc = int(target)
	return nil
}

// binary reads the two source registers of a 3-address instruction.
func (fr *frame) binary(b, c uint16) (float64, float64, error) {
	x, err := fr.reg(b)
	if err != nil {
		return 0, 0, err
	}
	y, err := fr.reg(c)
	return x, y, err
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// step executes one instruction of fr. It reports done when the outermost
// frame has returned.
//
//nolint:gocyclo
func (vm *VM) step(fr *frame) (bool, float64, error) {
	if fr.pc >= fr.fn.Len() {
		return false, 0, fmt.Errorf("%w: fell off the end", ErrBadCode)
	}
	op, a, b, c := Decode(fr.fn.Code, fr.pc)
	fr.pc++

	switch op {

	// ---- Load / move -------------------------------------------------------

	case OpLoadConst:
		if err := vm.useGas(gasTrivial); err != nil {
			return false, 0, err
		}
		if int(b) >= len(fr.fn.Constants) {
			return false, 0, fmt.Errorf("%w: constant %d", ErrBadCode, b)
		}
		return false, 0, fr.set(a, fr.fn.Constants[b])

	case OpMove:
		if err := vm.useGas(gasTrivial); err != nil {
			return false, 0, err
		}
		v, err := fr.reg(b)
		if err != nil {
			return false, 0, err
		}
		return false, 0, fr.set(a, v)

	// ---- Arithmetic --------------------------------------------------------

	case OpAdd, OpSub, OpMul, OpCmpULT, OpCmpONE:
		cost := gasArithmetic
		if op == OpMul {
			cost = gasMul
		}
		if err := vm.useGas(cost); err != nil {
			return false, 0, err
		}
		x, y, err := fr.binary(b, c)
		if err != nil {
			return false, 0, err
		}
		var r float64
		switch op {
		case OpAdd:
			r = x + y
		case OpSub:
			r = x - y
		case OpMul:
			r = x * y
		case OpCmpULT:
			r = boolValue(!(x >= y))
		case OpCmpONE:
			r = boolValue(x < y || x > y)
		}
		return false, 0, fr.set(a, r)

	// ---- Control flow ------------------------------------------------------

	case OpJump:
		if err := vm.useGas(gasJump); err != nil {
			return false, 0, err
		}
		return false, 0, fr.jump(a)

	case OpJumpIfNot:
		if err := vm.useGas(gasJump); err != nil {
			return false, 0, err
		}
		v, err := fr.reg(a)
		if err != nil {
			return false, 0, err
		}
		if v == 0 {
			return false, 0, fr.jump(b)
		}
		return false, 0, nil

	case OpArg:
		if err := vm.useGas(gasTrivial); err != nil {
			return false, 0, err
		}
		v, err := fr.reg(a)
		if err != nil {
			return false, 0, err
		}
		vm.args = append(vm.args, v)
		return false, 0, nil

	case OpCall:
		return false, 0, vm.call(fr, a, b, c)

	case OpReturn:
		if err := vm.useGas(gasTrivial); err != nil {
			return false, 0, err
		}
		v, err := fr.reg(a)
		if err != nil {
			return false, 0, err
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
		if len(vm.frames) == 0 {
			return true, v, nil
		}
		caller := &vm.frames[len(vm.frames)-1]
		return false, 0, caller.set(caller.ret, v)
	}
	return false, 0, fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, byte(op))
}

// call executes OpCall: R[a] = Callees[b](queued args), with c arguments.
func (vm *VM) call(fr *frame, a, b, c uint16) error {
	if int(b) >= len(fr.callees) {
		return fmt.Errorf("%w: callee %d", ErrBadCode, b)
	}
	if int(c) > len(vm.args) {
		return fmt.Errorf("%w: call needs %d queued arguments, have %d", ErrBadCode, c, len(vm.args))
	}
	callee := fr.callees[b]
	if callee.Arity() != int(c) {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrArity, fr.fn.Callees[b], callee.Arity(), c)
	}
	args := vm.args[len(vm.args)-int(c):]
	vm.args = vm.args[:len(vm.args)-int(c)]

	switch callee := callee.(type) {
	case *HostFunc:
		if err := vm.useGas(gasHost); err != nil {
			return err
		}
		return fr.set(a, callee.Fn(append([]float64(nil), args...)))
	case *Function:
		if err := vm.useGas(gasCall); err != nil {
			return err
		}
		fr.ret = a
		// push may grow vm.frames; fr is not used afterwards.
		return vm.push(callee, args)
	default:
		return fmt.Errorf("vm: cannot call %T", callee)
	}
}
