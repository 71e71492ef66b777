// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/go-kaleidoscope/lang/ir"
	"github.com/probechain/go-kaleidoscope/lang/irgen"
	"github.com/probechain/go-kaleidoscope/lang/lexer"
	"github.com/probechain/go-kaleidoscope/lang/parser"
	"github.com/probechain/go-kaleidoscope/lang/token"
	"github.com/probechain/go-kaleidoscope/lang/vm"
	kmath "github.com/probechain/go-kaleidoscope/stdlib/math"
)

// lower builds one module from definitions and externs, using a fresh
// generator so separate calls may define the same names.
func lower(t *testing.T, src string) *ir.Module {
	t.Helper()
	g, err := irgen.New(irgen.DefaultConfig())
	require.NoError(t, err)
	p := parser.New(lexer.NewString("test.ks", src), nil)
	p.Next()
	for p.Current().Type != token.EOF {
		switch p.Current().Type {
		case token.DEF:
			f, err := p.ParseDefinition()
			require.NoError(t, err)
			_, err = g.GenerateFunction(f)
			require.NoError(t, err)
		case token.EXTERN:
			proto, err := p.ParseExtern()
			require.NoError(t, err)
			_, err = g.GenerateExtern(proto)
			require.NoError(t, err)
		default:
			t.Fatalf("unexpected %v", p.Current())
		}
	}
	return g.Module()
}

func newEngine(t *testing.T, cfg Config) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	e, err := New(cfg, kmath.Library(&out))
	require.NoError(t, err)
	return e, &out
}

func TestAddModuleAndCall(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig())
	_, err := e.AddModule(lower(t, "def sq(x) x*x def sumsq(a b) sq(a) + sq(b)"))
	require.NoError(t, err)

	got, err := e.Call("sumsq", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 25.0, got)
	assert.Equal(t, []string{"sq", "sumsq"}, e.Symbols())
	assert.Equal(t, 1, e.Modules())
}

func TestNewestModuleWins(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig())
	_, err := e.AddModule(lower(t, "def f() 1"))
	require.NoError(t, err)

	got, err := e.Call("f")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	h, err := e.AddModule(lower(t, "def f() 2"))
	require.NoError(t, err)
	got, err = e.Call("f")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got, "cache must not return the shadowed definition")

	require.NoError(t, e.RemoveModule(h))
	got, err = e.Call("f")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestCrossModuleCall(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig())
	// g refers to f before any module defines it.
	_, err := e.AddModule(lower(t, "extern f(x) def g(x) f(x)+1"))
	require.NoError(t, err)

	_, err = e.Call("g", 1)
	assert.True(t, errors.Is(err, vm.ErrUnknownSymbol), "got %v", err)

	_, err = e.AddModule(lower(t, "def f(x) x*10"))
	require.NoError(t, err)
	got, err := e.Call("g", 4)
	require.NoError(t, err)
	assert.Equal(t, 41.0, got)
}

func TestHostSymbols(t *testing.T) {
	e, out := newEngine(t, DefaultConfig())
	_, err := e.AddModule(lower(t, "extern sqrt(x) extern printd(x) def f(x) printd(sqrt(x))"))
	require.NoError(t, err)

	got, err := e.Call("f", 9)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
	assert.Equal(t, "3.000000\n", out.String())

	sym, err := e.FindSymbol("cos")
	require.NoError(t, err)
	assert.Equal(t, 1, sym.Arity())
}

func TestSymbolNotFound(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig())
	_, err := e.FindSymbol("nope")
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
	_, err = e.Call("nope")
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
}

func TestRemoveUnknownModule(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig())
	assert.True(t, errors.Is(e.RemoveModule(42), ErrUnknownModule))

	h, err := e.AddModule(lower(t, "def f() 1"))
	require.NoError(t, err)
	require.NoError(t, e.RemoveModule(h))
	assert.True(t, errors.Is(e.RemoveModule(h), ErrUnknownModule), "handles are single use")
	_, err = e.FindSymbol("f")
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
}

func TestRejectsInvalidModule(t *testing.T) {
	m := ir.NewModule("bad")
	fn := m.Declare("f", nil)
	b := ir.NewBuilder(m)
	b.StartFunction(fn)
	b.SetBlock(b.NewBlock("entry"))
	b.EmitConst(1) // no terminator

	e, _ := newEngine(t, DefaultConfig())
	_, err := e.AddModule(m)
	assert.True(t, errors.Is(err, ErrInvalidModule), "got %v", err)
	assert.Equal(t, 0, e.Modules())
}

func TestExecutionLimits(t *testing.T) {
	e, _ := newEngine(t, Config{GasLimit: 10000, MaxCallDepth: 50})
	_, err := e.AddModule(lower(t, "def spin(x) for i = 0, 1 in 0 def deep(x) deep(x)"))
	require.NoError(t, err)

	_, err = e.Call("spin", 0)
	assert.True(t, errors.Is(err, vm.ErrOutOfGas), "got %v", err)
	_, err = e.Call("deep", 0)
	assert.True(t, errors.Is(err, vm.ErrCallDepth), "got %v", err)
	_, err = e.Call("deep")
	assert.True(t, errors.Is(err, vm.ErrArity), "got %v", err)
}

func TestTarget(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig())
	target := e.Target()
	assert.NotEmpty(t, target.Triple)
	assert.Equal(t, DataLayout, target.DataLayout)
}
