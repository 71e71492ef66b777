// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package repl implements the read-eval-print driver: it reads top-level
// units from a token stream, lowers each one, hands finished modules to the
// execution engine and evaluates bare expressions.
package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/olekukonko/tablewriter"

	"github.com/probechain/go-kaleidoscope/jit"
	"github.com/probechain/go-kaleidoscope/lang/ast"
	"github.com/probechain/go-kaleidoscope/lang/irgen"
	"github.com/probechain/go-kaleidoscope/lang/lexer"
	"github.com/probechain/go-kaleidoscope/lang/parser"
	"github.com/probechain/go-kaleidoscope/lang/token"
)

// DefaultPrompt is written before each unit in interactive mode.
const DefaultPrompt = "ready> "

// Config controls what the driver writes to its diagnostic stream.
type Config struct {
	Prompt     string            // written before each unit, empty for none
	DumpIR     bool              // print the IR of every accepted unit
	Color      bool              // colour errors and results
	Precedence parser.Precedence // nil selects parser.DefaultPrecedence
}

// Stats counts what a session has processed.
type Stats struct {
	Definitions int
	Externs     int
	Expressions int
	Errors      int
}

// Session drives one compilation session. It is not safe for concurrent use.
type Session struct {
	cfg    Config
	gen    *irgen.Generator
	engine *jit.Engine
	diag   io.Writer
	parser *parser.Parser

	errColor *color.Color
	resColor *color.Color

	stats   Stats
	results []float64
	log     log.Logger
}

// New creates a session writing diagnostics to diag.
func New(cfg Config, gen *irgen.Generator, engine *jit.Engine, diag io.Writer) *Session {
	s := &Session{
		cfg:      cfg,
		gen:      gen,
		engine:   engine,
		diag:     diag,
		errColor: color.New(color.FgRed),
		resColor: color.New(color.FgGreen),
		log:      log.New("pkg", "repl"),
	}
	for _, c := range []*color.Color{s.errColor, s.resColor} {
		if cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	gen.SetDataLayout(engine.Target().DataLayout)
	return s
}

// Stats returns the counters accumulated so far.
func (s *Session) Stats() Stats { return s.stats }

// Results returns the values of every evaluated top-level expression.
func (s *Session) Results() []float64 { return s.results }

// Run reads units from r until end of input. Errors in individual units are
// reported on the diagnostic stream and do not stop the loop; the returned
// error is a failure to read r.
func (s *Session) Run(filename string, r io.Reader) error {
	lex := lexer.New(filename, r)
	s.parser = parser.New(lex, s.cfg.Precedence)

	s.parser.Next()
	for {
		s.prompt()
		switch tok := s.parser.Current(); {
		case tok.Type == token.EOF:
			return lex.Err()
		case tok.Is(';'):
			s.parser.Next()
		case tok.Type == token.DEF:
			s.guard(s.handleDefinition)
		case tok.Type == token.EXTERN:
			s.guard(s.handleExtern)
		default:
			s.guard(s.handleTopLevelExpression)
		}
	}
}

func (s *Session) prompt() {
	if s.cfg.Prompt != "" {
		fmt.Fprint(s.diag, s.cfg.Prompt)
	}
}

// guard runs one handler, turning a panic into a reported error so the loop
// survives internal faults.
func (s *Session) guard(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from internal error", "err", r, "stack", fmt.Sprintf("%+v", stack.Trace().TrimRuntime()))
			s.report(fmt.Errorf("internal error: %v", r))
			s.parser.Next()
		}
	}()
	handler()
}

func (s *Session) note(msg string) {
	fmt.Fprintln(s.diag, msg)
}

func (s *Session) report(err error) {
	s.stats.Errors++
	s.errColor.Fprintf(s.diag, "Error: %v\n", err)
}

func (s *Session) dump(text string) {
	if s.cfg.DumpIR {
		fmt.Fprint(s.diag, text)
	}
}

func (s *Session) handleDefinition() {
	fn, err := s.parser.ParseDefinition()
	if err != nil {
		s.report(err)
		// Skip token for error recovery.
		s.parser.Next()
		return
	}
	s.note("Parsed a function definition.")
	irfn, err := s.gen.GenerateFunction(fn)
	if err != nil {
		s.report(err)
		return
	}
	s.note("Read function definition.")
	s.dump(irfn.String())

	if _, err := s.engine.AddModule(s.gen.TakeModule()); err != nil {
		s.report(err)
		s.gen.Forget(fn.Proto.Name)
		return
	}
	s.stats.Definitions++
}

func (s *Session) handleExtern() {
	proto, err := s.parser.ParseExtern()
	if err != nil {
		s.report(err)
		s.parser.Next()
		return
	}
	s.note("Parsed an extern")
	irfn, err := s.gen.GenerateExtern(proto)
	if err != nil {
		s.report(err)
		return
	}
	s.note("Read function definition.")
	s.dump(irfn.String())
	s.stats.Externs++
}

func (s *Session) handleTopLevelExpression() {
	fn, err := s.parser.ParseTopLevelExpr()
	if err != nil {
		s.report(err)
		s.parser.Next()
		return
	}
	s.note("Parsed a top-level expr")
	irfn, err := s.gen.GenerateFunction(fn)
	if err != nil {
		s.report(err)
		return
	}
	s.note("Read function definition.")
	s.dump(irfn.String())

	// The anonymous function lives only until it has been evaluated.
	defer s.gen.Forget(ast.AnonName)
	h, err := s.engine.AddModule(s.gen.TakeModule())
	if err != nil {
		s.report(err)
		return
	}
	defer func() {
		if err := s.engine.RemoveModule(h); err != nil {
			s.log.Warn("Failed to remove expression module", "handle", h, "err", err)
		}
	}()

	v, err := s.engine.Call(ast.AnonName)
	if err != nil {
		s.report(err)
		return
	}
	s.stats.Expressions++
	s.results = append(s.results, v)
	s.resColor.Fprintf(s.diag, "Evaluated to %f\n", v)
}

// Meta handles a line starting with '.', reporting whether it was a known
// command. Meta commands are not part of the language and never reach the
// lexer.
func (s *Session) Meta(line string) bool {
	switch strings.TrimSpace(line) {
	case ".protos":
		s.printPrototypes()
	case ".symbols":
		s.note(strings.Join(s.engine.Symbols(), " "))
	case ".stats":
		fmt.Fprintf(s.diag, "definitions=%d externs=%d expressions=%d errors=%d\n",
			s.stats.Definitions, s.stats.Externs, s.stats.Expressions, s.stats.Errors)
	case ".help":
		s.note(".protos   list known prototypes\n.symbols  list compiled functions\n.stats    show session counters")
	default:
		return false
	}
	return true
}

func (s *Session) printPrototypes() {
	table := tablewriter.NewWriter(s.diag)
	table.SetHeader([]string{"Name", "Params", "Arity", "Defined"})
	for _, p := range s.gen.Prototypes() {
		defined := "extern"
		if s.gen.Defined(p.Name) {
			defined = "def"
		}
		table.Append([]string{p.Name, strings.Join(p.Params, " "), fmt.Sprint(p.Arity()), defined})
	}
	table.Render()
}
