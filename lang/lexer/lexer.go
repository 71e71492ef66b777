// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package lexer implements a pull-based lexer for the Kaleidoscope language.
//
// The lexer keeps exactly one character of lookahead and never reads further
// than needed to finish the current token, so it can sit on an interactive
// stream and produce tokens as the user types them.
//
//   - Whitespace and character classes are ASCII
//   - '#' starts a comment that runs to the end of the line
//   - Numbers are runs of digits and '.', converted by longest valid prefix
//   - Any other character is returned as its own token
package lexer

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/probechain/go-kaleidoscope/lang/token"
)

// eof marks the end of the input stream in lastChar.
const eof rune = -1

// Lexer holds the state for a pull-based tokenization run.
type Lexer struct {
	filename string
	r        io.RuneReader

	lastChar rune // one character of lookahead; ' ' before the first read
	line     int  // 1-based line of lastChar
	col      int  // 1-based column of lastChar
	newline  bool // lastChar was '\n', the next read starts a new line

	err error // first non-EOF read error
}

// New creates a lexer reading characters from r.
func New(filename string, r io.Reader) *Lexer {
	rr, ok := r.(io.RuneReader)
	if !ok {
		rr = bufio.NewReader(r)
	}
	return &Lexer{
		filename: filename,
		r:        rr,
		lastChar: ' ',
		line:     1,
		col:      0,
	}
}

// NewString creates a lexer over an in-memory source.
func NewString(filename, src string) *Lexer {
	return New(filename, strings.NewReader(src))
}

// Err returns the first read error other than io.EOF. Such an error ends the
// token stream as if the input had been exhausted.
func (l *Lexer) Err() error {
	return l.err
}

// advance loads the next character into lastChar. Once the end of input is
// reached the reader is never consulted again.
func (l *Lexer) advance() {
	if l.lastChar == eof {
		return
	}
	ch, _, err := l.r.ReadRune()
	if err != nil {
		if err != io.EOF && l.err == nil {
			l.err = err
		}
		l.lastChar = eof
		return
	}
	if l.newline {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.newline = ch == '\n'
	l.lastChar = ch
}

// currentPos captures the location of lastChar.
func (l *Lexer) currentPos() token.Position {
	return token.Position{File: l.filename, Line: l.line, Column: l.col}
}

// NextToken scans and returns the next token from the input.
// After EOF is reached, subsequent calls continue returning EOF tokens.
func (l *Lexer) NextToken() token.Token {
	for {
		for isSpace(l.lastChar) {
			l.advance()
		}
		pos := l.currentPos()

		switch {
		// ---------------------------------------------------------------------
		// Identifiers and keywords
		// ---------------------------------------------------------------------
		case isAlpha(l.lastChar):
			var sb strings.Builder
			for isAlnum(l.lastChar) {
				sb.WriteRune(l.lastChar)
				l.advance()
			}
			lit := sb.String()
			return token.Token{Type: token.LookupIdent(lit), Literal: lit, Pos: pos}

		// ---------------------------------------------------------------------
		// Numeric literals
		// ---------------------------------------------------------------------
		case isDigit(l.lastChar) || l.lastChar == '.':
			var sb strings.Builder
			for isDigit(l.lastChar) || l.lastChar == '.' {
				sb.WriteRune(l.lastChar)
				l.advance()
			}
			lit := sb.String()
			return token.Token{Type: token.NUMBER, Literal: lit, Value: ParseNumber(lit), Pos: pos}

		// ---------------------------------------------------------------------
		// Comments run until end of line, then lexing resumes
		// ---------------------------------------------------------------------
		case l.lastChar == '#':
			for l.lastChar != eof && l.lastChar != '\n' && l.lastChar != '\r' {
				l.advance()
			}
			if l.lastChar != eof {
				continue
			}
			return token.Token{Type: token.EOF, Pos: pos}

		case l.lastChar == eof:
			return token.Token{Type: token.EOF, Pos: pos}
		}

		// Anything else is returned as a character token.
		ch := l.lastChar
		l.advance()
		return token.Token{Type: token.Type(ch), Literal: string(ch), Pos: pos}
	}
}

// Tokenize returns all tokens (including the final EOF) produced by repeated
// calls to NextToken.
func (l *Lexer) Tokenize() []token.Token {
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks
		}
	}
}

// ParseNumber converts a run of digits and dots to a float64 the way strtod
// does: the longest prefix that forms a valid decimal is used and the rest is
// ignored. A run with no valid prefix, such as ".", yields 0. Values too large
// for a float64 yield +Inf.
func ParseNumber(lit string) float64 {
	if i := strings.IndexByte(lit, '.'); i >= 0 {
		if j := strings.IndexByte(lit[i+1:], '.'); j >= 0 {
			lit = lit[:i+1+j]
		}
	}
	if lit == "" || lit == "." {
		return 0
	}
	// Range errors still carry the correctly rounded value (±Inf or 0).
	v, _ := strconv.ParseFloat(lit, 64)
	return v
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f'
}

func isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isAlnum(ch rune) bool {
	return isAlpha(ch) || isDigit(ch)
}
