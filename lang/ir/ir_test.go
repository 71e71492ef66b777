// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"math"
	"strings"
	"testing"
)

// buildDiamond builds
//
//	choose(c a b) = if c then a else b
func buildDiamond(t *testing.T) (*Module, *Function) {
	t.Helper()
	m := NewModule("test")
	fn := m.Declare("choose", []string{"c", "a", "b"})
	b := NewBuilder(m)
	b.StartFunction(fn)

	entry := b.NewBlock("entry")
	b.SetBlock(entry)
	zero := b.EmitConst(0)
	cond := b.EmitBinary(OpFCmpONE, fn.Params[0], zero, "ifcond")

	thenBlk := b.NewBlock("then")
	elseBlk := b.CreateBlock("else")
	merge := b.CreateBlock("ifcont")
	b.EmitCondBranch(cond, thenBlk, elseBlk)

	b.SetBlock(thenBlk)
	b.EmitBranch(merge)

	b.AppendBlock(elseBlk)
	b.SetBlock(elseBlk)
	b.EmitBranch(merge)

	b.AppendBlock(merge)
	b.SetBlock(merge)
	phi := b.EmitPhi(TypeDouble, "iftmp")
	phi.AddIncoming(fn.Params[1], thenBlk)
	phi.AddIncoming(fn.Params[2], elseBlk)
	b.EmitReturn(phi.Result)
	return m, fn
}

// buildLoop builds the lowering of
//
//	count(n) = for i = 0, i < n in i
//
// whose value is always 0.
func buildLoop(t *testing.T) (*Module, *Function) {
	t.Helper()
	m := NewModule("test")
	fn := m.Declare("count", []string{"n"})
	b := NewBuilder(m)
	b.StartFunction(fn)

	entry := b.NewBlock("entry")
	b.SetBlock(entry)
	start := b.EmitConst(0)
	loop := b.NewBlock("loop")
	b.EmitBranch(loop)

	b.SetBlock(loop)
	i := b.EmitPhi(TypeDouble, "i")
	i.AddIncoming(start, entry)
	step := b.EmitConst(1)
	next := b.EmitBinary(OpFAdd, i.Result, step, "nextvar")
	cmp := b.EmitBinary(OpFCmpULT, i.Result, fn.Params[0], "cmptmp")
	wide := b.EmitUIToFP(cmp, "booltmp")
	zero := b.EmitConst(0)
	cond := b.EmitBinary(OpFCmpONE, wide, zero, "loopcond")
	after := b.NewBlock("afterloop")
	b.EmitCondBranch(cond, loop, after)
	i.AddIncoming(next, loop)

	b.SetBlock(after)
	b.EmitReturn(b.EmitConst(0))
	return m, fn
}

func requireValid(t *testing.T, fn *Function) {
	t.Helper()
	if errs := Verify(fn); len(errs) > 0 {
		t.Fatalf("verify %s: %v\n%s", fn.Name, errs, fn)
	}
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuilderBasic(t *testing.T) {
	m := NewModule("test")
	fn := m.Declare("add", []string{"a", "b"})
	b := NewBuilder(m)
	b.StartFunction(fn)
	b.SetBlock(b.NewBlock("entry"))
	sum := b.EmitBinary(OpFAdd, fn.Params[0], fn.Params[1], "addtmp")
	b.EmitReturn(sum)

	requireValid(t, fn)
	if m.Function("add") != fn {
		t.Fatal("module lookup failed")
	}
	text := fn.String()
	for _, want := range []string{
		"define double @add(double %a, double %b) {",
		"entry:",
		"  %addtmp = fadd double %a, %b",
		"  ret double %addtmp",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}
}

func TestDeclarationPrinting(t *testing.T) {
	m := NewModule("test")
	fn := m.Declare("sin", []string{"x"})
	if !fn.IsDeclaration() {
		t.Fatal("expected a declaration")
	}
	if got, want := fn.String(), "declare double @sin(double %x)\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if errs := Verify(fn); len(errs) != 0 {
		t.Errorf("declaration should verify: %v", errs)
	}
}

func TestUniqueNames(t *testing.T) {
	m := NewModule("test")
	fn := m.Declare("f", []string{"x"})
	b := NewBuilder(m)
	b.StartFunction(fn)
	b.SetBlock(b.NewBlock("entry"))
	v1 := b.EmitBinary(OpFAdd, fn.Params[0], fn.Params[0], "addtmp")
	v2 := b.EmitBinary(OpFAdd, v1, v1, "addtmp")
	v3 := b.EmitBinary(OpFAdd, v2, v2, "addtmp")
	x := b.EmitBinary(OpFMul, v3, v3, "x")
	if v1.Name != "addtmp" || v2.Name != "addtmp1" || v3.Name != "addtmp2" {
		t.Errorf("names = %s %s %s", v1, v2, v3)
	}
	if x.Name != "x1" {
		t.Errorf("name clashing with a parameter = %s", x)
	}
	if blk := b.NewBlock("entry"); blk.Label != "entry1" {
		t.Errorf("block label = %s", blk.Label)
	}
}

func TestConstantPool(t *testing.T) {
	m := NewModule("test")
	a := m.AddConstant(1.5)
	b := m.AddConstant(2)
	c := m.AddConstant(1.5)
	negZero := m.AddConstant(math.Copysign(0, -1))
	zero := m.AddConstant(0)
	if a != c || a == b {
		t.Errorf("indices %d %d %d", a, b, c)
	}
	if negZero == zero {
		t.Error("0 and -0 must be distinct constants")
	}
}

func TestFormatConstant(t *testing.T) {
	cases := []struct {
		typ  Type
		v    float64
		want string
	}{
		{TypeDouble, 1, "1.000000e+00"},
		{TypeDouble, 0.5, "5.000000e-01"},
		{TypeDouble, 0.1, "1.000000e-01"},
		{TypeDouble, 1.0 / 3, "0x3FD5555555555555"},
		{TypeDouble, math.Inf(1), "0x7FF0000000000000"},
		{TypeBool, 1, "true"},
		{TypeBool, 0, "false"},
	}
	for _, c := range cases {
		if got := FormatConstant(c.typ, c.v); got != c.want {
			t.Errorf("FormatConstant(%s, %v) = %s, want %s", c.typ, c.v, got, c.want)
		}
	}
}

func TestBuilderControlFlow(t *testing.T) {
	_, fn := buildDiamond(t)
	requireValid(t, fn)

	if len(fn.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(fn.Blocks))
	}
	entry, merge := fn.Blocks[0], fn.Blocks[3]
	if len(entry.Succs) != 2 {
		t.Errorf("entry should have 2 successors, got %d", len(entry.Succs))
	}
	if len(merge.Preds) != 2 {
		t.Errorf("merge should have 2 predecessors, got %d", len(merge.Preds))
	}
	text := fn.String()
	if !strings.Contains(text, "%iftmp = phi double [ %a, %then ], [ %b, %else ]") {
		t.Errorf("phi not printed as expected:\n%s", text)
	}
	if !strings.Contains(text, "br i1 %ifcond, label %then, label %else") {
		t.Errorf("branch not printed as expected:\n%s", text)
	}
	if !strings.Contains(text, "; preds = %then, %else") {
		t.Errorf("preds comment missing:\n%s", text)
	}
}

func TestPhiInsertedAfterPhis(t *testing.T) {
	_, fn := buildLoop(t)
	loop := fn.Blocks[1]
	b := NewBuilder(fn.Module)
	b.StartFunction(fn)
	b.SetBlock(loop)
	extra := b.EmitPhi(TypeDouble, "j")
	if loop.Instructions[1] != extra {
		t.Fatalf("new phi not placed after the existing one")
	}
	if n := len(loop.Phis()); n != 2 {
		t.Errorf("phis = %d", n)
	}
}

// ---------------------------------------------------------------------------
// Dominators
// ---------------------------------------------------------------------------

func TestDominators(t *testing.T) {
	_, fn := buildDiamond(t)
	dom := ComputeDominators(fn)
	entry, thenBlk, elseBlk, merge := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2], fn.Blocks[3]

	for _, bb := range fn.Blocks {
		if !dom.Dominates(entry, bb) {
			t.Errorf("entry should dominate %s", bb.Label)
		}
	}
	if dom.Dominates(thenBlk, merge) || dom.Dominates(elseBlk, merge) {
		t.Error("a branch arm must not dominate the merge block")
	}
	if dom.IDom(merge) != entry {
		t.Errorf("idom(merge) = %v", dom.IDom(merge))
	}
	if dom.IDom(entry) != nil {
		t.Error("entry has no immediate dominator")
	}
	if got := len(dom.Children(entry)); got != 3 {
		t.Errorf("entry has %d children, want 3", got)
	}
}

func TestDominatorsLoop(t *testing.T) {
	_, fn := buildLoop(t)
	dom := ComputeDominators(fn)
	entry, loop, after := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2]
	if !dom.Dominates(loop, after) || dom.IDom(loop) != entry {
		t.Error("unexpected loop dominators")
	}
	if order := dom.Order(); order[0] != entry {
		t.Errorf("reverse postorder starts with %s", order[0].Label)
	}
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

func TestVerifyRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(fn *Function)
		want   string
	}{
		{"missing terminator", func(fn *Function) {
			fn.Blocks[1].Terminator = nil
		}, "no terminator"},
		{"phi entry count", func(fn *Function) {
			phi := fn.Blocks[3].Instructions[0]
			phi.Operands, phi.Incoming = phi.Operands[:1], phi.Incoming[:1]
		}, "predecessors"},
		{"undefined value", func(fn *Function) {
			fn.Blocks[3].Terminator = &TermReturn{Value: Value{ID: 999, Type: TypeDouble}}
		}, "undefined value"},
		{"branch on double", func(fn *Function) {
			br := fn.Blocks[0].Terminator.(*TermCondBranch)
			br.Cond = fn.Params[0]
		}, "want i1"},
		{"call to unknown", func(fn *Function) {
			fn.Blocks[1].Instructions = append(fn.Blocks[1].Instructions, &Instruction{
				Op: OpCall, Result: fn.NewValue(TypeDouble, "calltmp"), FuncName: "nope",
			})
		}, "unknown function"},
		{"phi not first", func(fn *Function) {
			bb := fn.Blocks[3]
			c := &Instruction{Op: OpConst, Result: fn.NewValue(TypeDouble, ""), ConstIdx: 0}
			bb.Instructions = append([]*Instruction{c}, bb.Instructions...)
		}, "not at the start"},
		{"dominance", func(fn *Function) {
			// Use a value defined in "then" from the merge block.
			thenBlk := fn.Blocks[1]
			v := fn.NewValue(TypeDouble, "onlythen")
			thenBlk.Instructions = append(thenBlk.Instructions, &Instruction{
				Op: OpFAdd, Result: v, Operands: []Value{fn.Params[1], fn.Params[2]},
			})
			fn.Blocks[3].Terminator = &TermReturn{Value: v}
		}, "does not dominate"},
	}
	for _, c := range cases {
		_, fn := buildDiamond(t)
		c.mutate(fn)
		errs := Verify(fn)
		if len(errs) == 0 {
			t.Errorf("%s: expected a verify error", c.name)
			continue
		}
		found := false
		for _, e := range errs {
			if strings.Contains(e.Error(), c.want) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: errors %v do not mention %q", c.name, errs, c.want)
		}
	}
}

func TestVerifyCallArity(t *testing.T) {
	m := NewModule("test")
	m.Declare("two", []string{"a", "b"})
	fn := m.Declare("caller", []string{"x"})
	b := NewBuilder(m)
	b.StartFunction(fn)
	b.SetBlock(b.NewBlock("entry"))
	ret := b.EmitCall(m.Function("two"), []Value{fn.Params[0]}, "calltmp")
	b.EmitReturn(ret)

	errs := Verify(fn)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "with 1 arguments, want 2") {
		t.Errorf("errors = %v", errs)
	}
}

func TestVerifyModuleDuplicateNames(t *testing.T) {
	m := NewModule("test")
	m.Declare("f", nil)
	m.Declare("f", nil)
	if errs := VerifyModule(m); len(errs) != 1 {
		t.Errorf("errors = %v", errs)
	}
}

func TestRemoveFunction(t *testing.T) {
	m, fn := buildDiamond(t)
	m.RemoveFunction(fn)
	if m.Function("choose") != nil || len(m.Functions) != 0 {
		t.Error("function still present after removal")
	}
}
