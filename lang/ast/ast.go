// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ast defines the Abstract Syntax Tree for the Kaleidoscope language.
//
// Design overview:
//
//   - Expression is a closed set of node types. The marker method is
//     unexported so no other package can add a variant, and consumers
//     dispatch with a type switch.
//   - Every node keeps the token that originated it so later stages can
//     report source locations.
//   - String renders a node in re-parseable Kaleidoscope syntax with explicit
//     parentheses around binary operators.
package ast

import (
	"strconv"
	"strings"

	"github.com/probechain/go-kaleidoscope/lang/token"
)

// AnonName is the function name given to top-level expressions. It contains
// a character that can never appear in a lexed identifier.
const AnonName = "__anon_expr"

// ---------------------------------------------------------------------------
// Core interfaces
// ---------------------------------------------------------------------------

// Node is the base interface that every AST node implements.
type Node interface {
	// Pos returns the source location of the node's first token.
	Pos() token.Position
	String() string
}

// Expression is the interface for all expression nodes. Every expression
// evaluates to a double.
type Expression interface {
	Node
	expressionNode()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// NumberExpr is a numeric literal like "1.0".
type NumberExpr struct {
	Token token.Token
	Value float64
}

// VariableExpr references a named variable like "a".
type VariableExpr struct {
	Token token.Token
	Name  string
}

// BinaryExpr is a binary operator application. Op is the operator character.
type BinaryExpr struct {
	Token token.Token // the operator token
	Op    rune
	LHS   Expression
	RHS   Expression
}

// CallExpr is a function call.
type CallExpr struct {
	Token  token.Token // the callee identifier
	Callee string
	Args   []Expression
}

// IfExpr is "if Cond then Then else Else".
type IfExpr struct {
	Token token.Token
	Cond  Expression
	Then  Expression
	Else  Expression
}

// ForExpr is "for Var = Start, End[, Step] in Body". Step is nil when the
// source omits it.
type ForExpr struct {
	Token token.Token
	Var   string
	Start Expression
	End   Expression
	Step  Expression
	Body  Expression
}

func (*NumberExpr) expressionNode()   {}
func (*VariableExpr) expressionNode() {}
func (*BinaryExpr) expressionNode()   {}
func (*CallExpr) expressionNode()     {}
func (*IfExpr) expressionNode()       {}
func (*ForExpr) expressionNode()      {}

func (e *NumberExpr) Pos() token.Position   { return e.Token.Pos }
func (e *VariableExpr) Pos() token.Position { return e.Token.Pos }
func (e *BinaryExpr) Pos() token.Position   { return e.LHS.Pos() }
func (e *CallExpr) Pos() token.Position     { return e.Token.Pos }
func (e *IfExpr) Pos() token.Position       { return e.Token.Pos }
func (e *ForExpr) Pos() token.Position      { return e.Token.Pos }

func (e *NumberExpr) String() string {
	return strconv.FormatFloat(e.Value, 'g', -1, 64)
}

func (e *VariableExpr) String() string { return e.Name }

func (e *BinaryExpr) String() string {
	return "(" + e.LHS.String() + " " + string(e.Op) + " " + e.RHS.String() + ")"
}

func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Callee + "(" + strings.Join(args, ", ") + ")"
}

func (e *IfExpr) String() string {
	return "(if " + e.Cond.String() + " then " + e.Then.String() + " else " + e.Else.String() + ")"
}

func (e *ForExpr) String() string {
	var sb strings.Builder
	sb.WriteString("(for ")
	sb.WriteString(e.Var)
	sb.WriteString(" = ")
	sb.WriteString(e.Start.String())
	sb.WriteString(", ")
	sb.WriteString(e.End.String())
	if e.Step != nil {
		sb.WriteString(", ")
		sb.WriteString(e.Step.String())
	}
	sb.WriteString(" in ")
	sb.WriteString(e.Body.String())
	sb.WriteString(")")
	return sb.String()
}

// ---------------------------------------------------------------------------
// Top-level units
// ---------------------------------------------------------------------------

// Prototype is a function signature: its name and parameter names. All
// parameters and the result are doubles, so the arity is len(Params).
type Prototype struct {
	Token  token.Token
	Name   string
	Params []string
}

func (p *Prototype) Pos() token.Position { return p.Token.Pos }

// Arity returns the number of parameters.
func (p *Prototype) Arity() int { return len(p.Params) }

// IsAnonymous reports whether the prototype wraps a top-level expression.
func (p *Prototype) IsAnonymous() bool { return p.Name == AnonName }

func (p *Prototype) String() string {
	return p.Name + "(" + strings.Join(p.Params, " ") + ")"
}

// Function is a prototype plus a body expression.
type Function struct {
	Proto *Prototype
	Body  Expression
}

func (f *Function) Pos() token.Position { return f.Proto.Pos() }

func (f *Function) String() string {
	if f.Proto.IsAnonymous() {
		return f.Body.String()
	}
	return "def " + f.Proto.String() + " " + f.Body.String()
}
