// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ast_test

import (
	"testing"

	"github.com/probechain/go-kaleidoscope/lang/ast"
	"github.com/probechain/go-kaleidoscope/lang/lexer"
	"github.com/probechain/go-kaleidoscope/lang/parser"
	"github.com/probechain/go-kaleidoscope/lang/token"
)

func parseUnit(t *testing.T, src string) *ast.Function {
	t.Helper()
	p := parser.New(lexer.NewString("test", src), nil)
	p.Next()

	var (
		fn  *ast.Function
		err error
	)
	if p.Current().Type == token.DEF {
		fn, err = p.ParseDefinition()
	} else {
		fn, err = p.ParseTopLevelExpr()
	}
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return fn
}

func TestStringRoundTrip(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"4+5", "(4 + 5)"},
		{"1.5", "1.5"},
		{"a*b+c", "((a * b) + c)"},
		{"a+b*c-d", "((a + (b * c)) - d)"},
		{"a<b", "(a < b)"},
		{"f()", "f()"},
		{"f(1, x+2)", "f(1, (x + 2))"},
		{"if x < 3 then 1 else 2", "(if (x < 3) then 1 else 2)"},
		{"for i = 1, i < n in g(i)", "(for i = 1, (i < n) in g(i))"},
		{"for i = 0, i < 9, 2 in i", "(for i = 0, (i < 9), 2 in i)"},
		{"def f(x) x+1", "def f(x) (x + 1)"},
		{"def fib(x) if x < 3 then 1 else fib(x-1)+fib(x-2)",
			"def fib(x) (if (x < 3) then 1 else (fib((x - 1)) + fib((x - 2))))"},
		{"def g(a b) a*b", "def g(a b) (a * b)"},
	}
	for _, tt := range tests {
		got := parseUnit(t, tt.src).String()
		if got != tt.want {
			t.Errorf("%q: have %q, want %q", tt.src, got, tt.want)
			continue
		}
		if again := parseUnit(t, got).String(); again != got {
			t.Errorf("%q: reparsed as %q", got, again)
		}
	}
}

func TestPrototype(t *testing.T) {
	p := &ast.Prototype{Name: "atan2", Params: []string{"y", "x"}}
	if p.String() != "atan2(y x)" {
		t.Errorf("unexpected rendering %q", p.String())
	}
	if p.Arity() != 2 {
		t.Errorf("arity %d, want 2", p.Arity())
	}
	if p.IsAnonymous() {
		t.Error("named prototype reported anonymous")
	}
	if !(&ast.Prototype{Name: ast.AnonName}).IsAnonymous() {
		t.Error("anonymous prototype not recognised")
	}
}

func TestPositions(t *testing.T) {
	fn := parseUnit(t, "def f(x)\n  x + g(x)")
	if pos := fn.Pos(); pos.Line != 1 || pos.Column != 5 {
		t.Errorf("function position %v", pos)
	}
	bin, ok := fn.Body.(*ast.BinaryExpr)
	if !ok {
		t.Fatalf("body is %T", fn.Body)
	}
	if pos := bin.Pos(); pos.Line != 2 || pos.Column != 3 {
		t.Errorf("binary position %v, want the left operand", pos)
	}
	if pos := bin.RHS.Pos(); pos.Line != 2 || pos.Column != 7 {
		t.Errorf("call position %v", pos)
	}
}
