// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/probechain/go-kaleidoscope/lang/ir"
	"github.com/probechain/go-kaleidoscope/lang/irgen"
	"github.com/probechain/go-kaleidoscope/lang/lexer"
	"github.com/probechain/go-kaleidoscope/lang/parser"
	"github.com/probechain/go-kaleidoscope/lang/token"
	"github.com/probechain/go-kaleidoscope/lang/vm"
)

// lower parses and lowers a sequence of definitions and externs into one
// module.
func lower(t *testing.T, optimize bool, src string) *ir.Module {
	t.Helper()
	g, err := irgen.New(irgen.Config{Optimize: optimize, Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	p := parser.New(lexer.NewString("test.ks", src), nil)
	p.Next()
	for p.Current().Type != token.EOF {
		switch {
		case p.Current().Is(';'):
			p.Next()
		case p.Current().Type == token.DEF:
			f, err := p.ParseDefinition()
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if _, err := g.GenerateFunction(f); err != nil {
				t.Fatalf("lower %s: %v", f.Proto.Name, err)
			}
		case p.Current().Type == token.EXTERN:
			proto, err := p.ParseExtern()
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if _, err := g.GenerateExtern(proto); err != nil {
				t.Fatalf("lower extern %s: %v", proto.Name, err)
			}
		default:
			t.Fatalf("unexpected %v at %v", p.Current(), p.Current().Pos)
		}
	}
	return g.Module()
}

// table is a map-backed vm.Resolver.
type table map[string]vm.Callable

func (s table) Resolve(name string) (vm.Callable, error) {
	if c, ok := s[name]; ok {
		return c, nil
	}
	return nil, errors.New("not found")
}

// compile compiles m, verifies every function and returns a symbol table
// holding the result plus any host functions.
func compile(t *testing.T, m *ir.Module, host ...*vm.HostFunc) table {
	t.Helper()
	fns, err := Compile(m)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	syms := make(table)
	for _, h := range host {
		syms[h.Name] = h
	}
	for _, fn := range fns {
		if errs := Verify(fn); len(errs) > 0 {
			t.Fatalf("verify %s: %v\n%s", fn.Name, errs, fn.Disassemble())
		}
		syms[fn.Name] = fn
	}
	return syms
}

func call(t *testing.T, syms table, name string, args ...float64) float64 {
	t.Helper()
	fn, ok := syms[name]
	if !ok {
		t.Fatalf("no function %s", name)
	}
	result, err := vm.New(syms, vm.Config{}).Call(fn, args...)
	if err != nil {
		t.Fatalf("%s%v: %v", name, args, err)
	}
	return result
}

func opcodes(fn *vm.Function) []vm.Opcode {
	var ops []vm.Opcode
	for pc := 0; pc < fn.Len(); pc++ {
		op, _, _, _ := vm.Decode(fn.Code, pc)
		ops = append(ops, op)
	}
	return ops
}

func TestGenerateSimpleAdd(t *testing.T) {
	m := lower(t, false, "def add(a b) a+b")
	fns, err := Compile(m)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(fns) != 1 || fns[0].Name != "add" {
		t.Fatalf("expected one function named add, got %v", fns)
	}
	fn := fns[0]

	// Should have: ADD + RETURN.
	ops := opcodes(fn)
	if len(ops) != 2 || ops[0] != vm.OpAdd || ops[1] != vm.OpReturn {
		t.Errorf("expected [ADD RETURN], got %v", ops)
	}
	_, a, b, c := vm.Decode(fn.Code, 0)
	if a != 2 || b != 0 || c != 1 {
		t.Errorf("expected ADD 2 0 1, got ADD %d %d %d", a, b, c)
	}
	if fn.Params != 2 || fn.Registers != 3 {
		t.Errorf("params=%d registers=%d, want 2 and 3", fn.Params, fn.Registers)
	}
}

func TestGenerateWithConstant(t *testing.T) {
	m := lower(t, false, "def f(x) x*2+2")
	syms := compile(t, m)
	fn := syms["f"].(*vm.Function)

	if len(fn.Constants) != 1 || fn.Constants[0] != 2 {
		t.Errorf("expected constant pool [2], got %v", fn.Constants)
	}
	if got := call(t, syms, "f", 5); got != 12 {
		t.Errorf("f(5) = %v, want 12", got)
	}
}

func TestCompileSkipsDeclarations(t *testing.T) {
	m := lower(t, false, "extern sin(x) def f(x) sin(x)")
	fns, err := Compile(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(fns) != 1 || fns[0].Name != "f" {
		t.Fatalf("expected only f, got %d functions", len(fns))
	}
	if len(fns[0].Callees) != 1 || fns[0].Callees[0] != "sin" {
		t.Errorf("callees = %v, want [sin]", fns[0].Callees)
	}
}

func TestExecute(t *testing.T) {
	src := `
def fib(n) if n < 3 then 1 else fib(n-1) + fib(n-2);
def max(a b) if a < b then b else a;
def sign(x) if x < 0 then 0-1 else if 0 < x then 1 else 0;
def count(n) for i = 0, i < n in i;
def lt(a b) a < b;
def nested(a b) if a then (if b then 1 else 2) else 3;
`
	cases := []struct {
		name string
		args []float64
		want float64
	}{
		{"fib", []float64{10}, 55},
		{"fib", []float64{1}, 1},
		{"max", []float64{3, 7}, 7},
		{"max", []float64{7, 3}, 7},
		{"sign", []float64{-4}, -1},
		{"sign", []float64{4}, 1},
		{"sign", []float64{0}, 0},
		{"count", []float64{10}, 0},
		{"lt", []float64{1, 2}, 1},
		{"lt", []float64{2, 1}, 0},
		{"nested", []float64{1, 1}, 1},
		{"nested", []float64{1, 0}, 2},
		{"nested", []float64{0, 1}, 3},
	}
	for _, optimize := range []bool{false, true} {
		syms := compile(t, lower(t, optimize, src))
		for _, c := range cases {
			if got := call(t, syms, c.name, c.args...); got != c.want {
				t.Errorf("optimize=%v: %s%v = %v, want %v", optimize, c.name, c.args, got, c.want)
			}
		}
	}
}

func TestLoopRunsBody(t *testing.T) {
	for _, optimize := range []bool{false, true} {
		var seen []float64
		tick := &vm.HostFunc{Name: "tick", Params: 1, Fn: func(args []float64) float64 {
			seen = append(seen, args[0])
			return 0
		}}
		m := lower(t, optimize, "extern tick(x) def run(n) for i = 1, i < n in tick(i)")
		syms := compile(t, m, tick)

		if got := call(t, syms, "run", 5); got != 0 {
			t.Errorf("optimize=%v: run(5) = %v, want 0", optimize, got)
		}
		want := []float64{1, 2, 3, 4, 5}
		if len(seen) != len(want) {
			t.Fatalf("optimize=%v: body saw %v, want %v", optimize, seen, want)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("optimize=%v: body saw %v, want %v", optimize, seen, want)
				break
			}
		}
	}
}

// TestParallelCopies checks that phis assigned on the same edge read their
// sources before any of them is overwritten.
//
//	swap(a b n): x, y = a, b; repeat n times: x, y = y, x; return y
func TestParallelCopies(t *testing.T) {
	m := ir.NewModule("test")
	fn := m.Declare("swap", []string{"a", "b", "n"})
	b := ir.NewBuilder(m)
	b.StartFunction(fn)

	entry := b.NewBlock("entry")
	b.SetBlock(entry)
	zero := b.EmitConst(0)
	loop := b.NewBlock("loop")
	b.EmitBranch(loop)

	b.SetBlock(loop)
	x := b.EmitPhi(ir.TypeDouble, "x")
	y := b.EmitPhi(ir.TypeDouble, "y")
	i := b.EmitPhi(ir.TypeDouble, "i")
	one := b.EmitConst(1)
	next := b.EmitBinary(ir.OpFAdd, i.Result, one, "next")
	cond := b.EmitBinary(ir.OpFCmpULT, next, fn.Params[2], "cond")
	exit := b.NewBlock("exit")
	b.EmitCondBranch(cond, loop, exit)
	x.AddIncoming(fn.Params[0], entry)
	x.AddIncoming(y.Result, loop)
	y.AddIncoming(fn.Params[1], entry)
	y.AddIncoming(x.Result, loop)
	i.AddIncoming(zero, entry)
	i.AddIncoming(next, loop)

	b.SetBlock(exit)
	b.EmitReturn(y.Result)
	if errs := ir.Verify(fn); len(errs) > 0 {
		t.Fatalf("invalid test IR: %v", errs)
	}

	syms := compile(t, m)
	cases := []struct {
		n, want float64
	}{
		{1, 20}, // no swap
		{2, 10}, // one swap
		{3, 20},
		{4, 10},
	}
	for _, c := range cases {
		if got := call(t, syms, "swap", 10, 20, c.n); got != c.want {
			t.Errorf("swap(10, 20, %v) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestGenerateRejectsDeclaration(t *testing.T) {
	m := ir.NewModule("test")
	decl := m.Declare("ext", []string{"x"})
	if _, err := New(m).Generate(decl); err == nil {
		t.Error("expected an error compiling a declaration")
	}
}

func TestVerifyRejects(t *testing.T) {
	enc := func(list ...[4]uint16) []byte {
		var code []byte
		for _, i := range list {
			code = vm.Encode(code, vm.Opcode(i[0]), i[1], i[2], i[3])
		}
		return code
	}
	ret := [4]uint16{uint16(vm.OpReturn), 0, 0, 0}
	cases := []struct {
		name string
		fn   *vm.Function
		want string
	}{
		{"empty", &vm.Function{Registers: 1}, "empty function"},
		{"truncated", &vm.Function{Registers: 1, Code: []byte{1, 2, 3}}, "truncated instruction"},
		{"opcode", &vm.Function{Registers: 1, Code: enc([4]uint16{0xEE, 0, 0, 0}, ret)}, "unknown opcode"},
		{"register", &vm.Function{Registers: 1, Code: enc([4]uint16{uint16(vm.OpAdd), 0, 1, 0}, ret)}, "register 1 out of bounds"},
		{"constant", &vm.Function{Registers: 1, Code: enc([4]uint16{uint16(vm.OpLoadConst), 0, 0, 0}, ret)}, "constant index 0 out of bounds"},
		{"callee", &vm.Function{Registers: 1, Code: enc([4]uint16{uint16(vm.OpCall), 0, 0, 0}, ret)}, "callee index 0 out of bounds"},
		{"jump", &vm.Function{Registers: 1, Code: enc([4]uint16{uint16(vm.OpJump), 5, 0, 0})}, "jump target 5 out of bounds"},
		{"argc", &vm.Function{Registers: 1, Callees: []string{"f"}, Code: enc(
			[4]uint16{uint16(vm.OpArg), 0, 0, 0},
			[4]uint16{uint16(vm.OpCall), 0, 0, 2},
			ret,
		)}, "call with 2 arguments but 1 queued"},
		{"stray arg", &vm.Function{Registers: 1, Code: enc([4]uint16{uint16(vm.OpArg), 0, 0, 0}, ret)}, "1 arguments queued before RETURN"},
		{"fall off", &vm.Function{Registers: 1, Code: enc([4]uint16{uint16(vm.OpMove), 0, 0, 0})}, "control falls off the end"},
		{"params", &vm.Function{Params: 2, Registers: 1, Code: enc(ret)}, "2 parameters but only 1 registers"},
	}
	for _, c := range cases {
		c.fn.Name = c.name
		errs := Verify(c.fn)
		found := false
		for _, err := range errs {
			if strings.Contains(err.Message, c.want) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected %q among %v", c.name, c.want, errs)
		}
	}
}
