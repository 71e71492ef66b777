// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package token defines the lexical token types for the Kaleidoscope language.
//
// Fixed token kinds are negative. Every other character is returned by the
// lexer as a token whose Type is the character's own code point, so operators
// and punctuation are never pre-classified; the parser interprets them.
package token

import "fmt"

// Token represents a lexical token.
type Token struct {
	Type    Type
	Literal string  // identifier text, number text or the character itself
	Value   float64 // numeric value, set for NUMBER
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case IDENT:
		return fmt.Sprintf("%s(%s)", t.Type, t.Literal)
	case NUMBER:
		return fmt.Sprintf("%s(%g)", t.Type, t.Value)
	}
	return t.Type.String()
}

// Is reports whether the token is the given single character.
func (t Token) Is(ch rune) bool { return t.Type == Type(ch) }

// Position tracks source location.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Type is the kind of a token. Values >= 0 are character codes.
type Type int

const (
	EOF Type = -(iota + 1)

	// commands
	DEF
	EXTERN

	// primary
	IDENT
	NUMBER

	// control
	IF
	THEN
	ELSE
	FOR
	IN
)

var tokenNames = map[Type]string{
	EOF:    "EOF",
	DEF:    "def",
	EXTERN: "extern",
	IDENT:  "IDENT",
	NUMBER: "NUMBER",
	IF:     "if",
	THEN:   "then",
	ELSE:   "else",
	FOR:    "for",
	IN:     "in",
}

// String returns the string form of a token type.
func (t Type) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	if t >= 0 {
		return fmt.Sprintf("%q", rune(t))
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsChar reports whether the type is a raw character code.
func (t Type) IsChar() bool { return t >= 0 }

// IsASCII reports whether the type is a character in the ASCII range.
func (t Type) IsASCII() bool { return t >= 0 && t < 0x80 }

// IsKeyword returns true if the token is a keyword.
func (t Type) IsKeyword() bool {
	switch t {
	case DEF, EXTERN, IF, THEN, ELSE, FOR, IN:
		return true
	}
	return false
}

// keywords maps keyword strings to token types.
var keywords = map[string]Type{
	"def":    DEF,
	"extern": EXTERN,
	"if":     IF,
	"then":   THEN,
	"else":   ELSE,
	"for":    FOR,
	"in":     IN,
}

// LookupIdent checks if an identifier is a keyword.
func LookupIdent(ident string) Type {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}
