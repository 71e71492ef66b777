// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package parser implements a recursive-descent / precedence-climbing parser
// for the Kaleidoscope language.
//
// Design overview:
//
//   - Top-level units (definitions, externs, bare expressions) each have their
//     own entry point; the caller decides which one to invoke from the
//     current token.
//   - Binary expressions are parsed by precedence climbing over a table that
//     maps operator characters to binding power.
//   - The parser holds only the current token and never reads ahead of it,
//     so it can be driven by an interactive stream.
//   - The parser does not recover on its own. On error it returns the error
//     and the caller must skip at least one token before retrying.
package parser

import (
	"fmt"

	"github.com/probechain/go-kaleidoscope/lang/ast"
	"github.com/probechain/go-kaleidoscope/lang/lexer"
	"github.com/probechain/go-kaleidoscope/lang/token"
)

// ---------------------------------------------------------------------------
// Precedence table
// ---------------------------------------------------------------------------

// Precedence maps binary operator characters to their binding power. Higher
// binds tighter. Characters missing from the table are not binary operators.
type Precedence map[rune]int

// DefaultPrecedence returns the standard operator table.
func DefaultPrecedence() Precedence {
	return Precedence{
		'<': 10,
		'+': 20,
		'-': 20,
		'*': 40,
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a grammar violation at a source position.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser holds the mutable state for a parse session.
type Parser struct {
	lex  *lexer.Lexer
	cur  token.Token // current token
	prec Precedence
}

// New creates a parser reading tokens from lex. No token is read until Next
// is called. A nil table selects DefaultPrecedence.
func New(lex *lexer.Lexer, prec Precedence) *Parser {
	if prec == nil {
		prec = DefaultPrecedence()
	}
	return &Parser{lex: lex, prec: prec}
}

// Next reads the next token from the lexer and makes it current.
func (p *Parser) Next() token.Token {
	p.cur = p.lex.NextToken()
	return p.cur
}

// Current returns the current token.
func (p *Parser) Current() token.Token {
	return p.cur
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &Error{Pos: p.cur.Pos, Msg: fmt.Sprintf(format, args...)}
}

// tokenPrecedence returns the binding power of the current token, or -1 if it
// is not a binary operator.
func (p *Parser) tokenPrecedence() int {
	if !p.cur.Type.IsASCII() {
		return -1
	}
	prec, ok := p.prec[rune(p.cur.Type)]
	if !ok || prec <= 0 {
		return -1
	}
	return prec
}

// ---------------------------------------------------------------------------
// Top-level units
// ---------------------------------------------------------------------------

// ParseDefinition parses "def" prototype expression.
func (p *Parser) ParseDefinition() (*ast.Function, error) {
	p.Next() // eat def
	proto, err := p.parsePrototype()
	if err != nil {
		return nil, err
	}
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.Function{Proto: proto, Body: body}, nil
}

// ParseExtern parses "extern" prototype.
func (p *Parser) ParseExtern() (*ast.Prototype, error) {
	p.Next() // eat extern
	return p.parsePrototype()
}

// ParseTopLevelExpr parses a bare expression and wraps it in a nullary
// function named ast.AnonName.
func (p *Parser) ParseTopLevelExpr() (*ast.Function, error) {
	start := p.cur
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	proto := &ast.Prototype{
		Token:  token.Token{Type: token.IDENT, Literal: ast.AnonName, Pos: start.Pos},
		Name:   ast.AnonName,
		Params: []string{},
	}
	return &ast.Function{Proto: proto, Body: body}, nil
}

// parsePrototype parses identifier '(' identifier* ')'.
func (p *Parser) parsePrototype() (*ast.Prototype, error) {
	if p.cur.Type != token.IDENT {
		return nil, p.errorf("Expected function name in prototype")
	}
	nameTok := p.cur
	p.Next()

	if !p.cur.Is('(') {
		return nil, p.errorf("Expected '(' in prototype")
	}
	params := []string{}
	for p.Next().Type == token.IDENT {
		params = append(params, p.cur.Literal)
	}
	if !p.cur.Is(')') {
		return nil, p.errorf("Expected ')' in prototype")
	}
	p.Next() // eat ')'
	return &ast.Prototype{Token: nameTok, Name: nameTok.Literal, Params: params}, nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses primary (binop primary)*.
func (p *Parser) ParseExpression() (ast.Expression, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parseBinOpRHS(0, lhs)
}

// parseBinOpRHS extends lhs with operators binding at least as tightly as
// exprPrec. Operators of equal precedence associate to the left.
func (p *Parser) parseBinOpRHS(exprPrec int, lhs ast.Expression) (ast.Expression, error) {
	for {
		tokPrec := p.tokenPrecedence()
		if tokPrec < exprPrec {
			return lhs, nil
		}
		opTok := p.cur
		p.Next() // eat binop

		rhs, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		// If the next operator binds tighter, let it take rhs first.
		if tokPrec < p.tokenPrecedence() {
			if rhs, err = p.parseBinOpRHS(tokPrec+1, rhs); err != nil {
				return nil, err
			}
		}
		lhs = &ast.BinaryExpr{Token: opTok, Op: rune(opTok.Type), LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parsePrimary() (ast.Expression, error) {
	switch {
	case p.cur.Type == token.IDENT:
		return p.parseIdentifierExpr()
	case p.cur.Type == token.NUMBER:
		return p.parseNumberExpr(), nil
	case p.cur.Is('('):
		return p.parseParenExpr()
	case p.cur.Type == token.IF:
		return p.parseIfExpr()
	case p.cur.Type == token.FOR:
		return p.parseForExpr()
	}
	return nil, p.errorf("unknown token when expecting an expression")
}

func (p *Parser) parseNumberExpr() ast.Expression {
	e := &ast.NumberExpr{Token: p.cur, Value: p.cur.Value}
	p.Next()
	return e
}

// parseParenExpr parses '(' expression ')'.
func (p *Parser) parseParenExpr() (ast.Expression, error) {
	p.Next() // eat '('
	e, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if !p.cur.Is(')') {
		return nil, p.errorf("expected ')'")
	}
	p.Next() // eat ')'
	return e, nil
}

// parseIdentifierExpr parses a variable reference or a call.
func (p *Parser) parseIdentifierExpr() (ast.Expression, error) {
	nameTok := p.cur
	p.Next() // eat identifier

	if !p.cur.Is('(') {
		return &ast.VariableExpr{Token: nameTok, Name: nameTok.Literal}, nil
	}
	p.Next() // eat '('
	args := []ast.Expression{}
	if !p.cur.Is(')') {
		for {
			arg, err := p.ParseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur.Is(')') {
				break
			}
			if !p.cur.Is(',') {
				return nil, p.errorf("Expected ')' or ',' in argument list")
			}
			p.Next()
		}
	}
	p.Next() // eat ')'
	return &ast.CallExpr{Token: nameTok, Callee: nameTok.Literal, Args: args}, nil
}

// parseIfExpr parses "if" expr "then" expr "else" expr.
func (p *Parser) parseIfExpr() (ast.Expression, error) {
	ifTok := p.cur
	p.Next() // eat if

	cond, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != token.THEN {
		return nil, p.errorf("expected then")
	}
	p.Next()
	then, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != token.ELSE {
		return nil, p.errorf("expected else")
	}
	p.Next()
	els, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.IfExpr{Token: ifTok, Cond: cond, Then: then, Else: els}, nil
}

// parseForExpr parses "for" ident "=" expr "," expr ("," expr)? "in" expr.
func (p *Parser) parseForExpr() (ast.Expression, error) {
	forTok := p.cur
	p.Next() // eat for

	if p.cur.Type != token.IDENT {
		return nil, p.errorf("expected identifier after for")
	}
	name := p.cur.Literal
	p.Next()

	if !p.cur.Is('=') {
		return nil, p.errorf("expected '=' after for")
	}
	p.Next()

	start, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if !p.cur.Is(',') {
		return nil, p.errorf("expected ',' after for start value")
	}
	p.Next()

	end, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}

	var step ast.Expression
	if p.cur.Is(',') {
		p.Next()
		if step, err = p.ParseExpression(); err != nil {
			return nil, err
		}
	}

	if p.cur.Type != token.IN {
		return nil, p.errorf("expected 'in' after for")
	}
	p.Next()

	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.ForExpr{Token: forTok, Var: name, Start: start, End: end, Step: step, Body: body}, nil
}
