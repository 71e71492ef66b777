// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/go-kaleidoscope/lang/ast"
	"github.com/probechain/go-kaleidoscope/lang/codegen"
	"github.com/probechain/go-kaleidoscope/lang/irgen"
	"github.com/probechain/go-kaleidoscope/lang/lexer"
	"github.com/probechain/go-kaleidoscope/lang/parser"
	"github.com/probechain/go-kaleidoscope/lang/token"
)

var (
	spewDumpFlag = cli.BoolFlag{
		Name:  "dump",
		Usage: "Dump the raw syntax tree instead of printing it as source",
	}
	bytecodeFlag = cli.BoolFlag{
		Name:  "bytecode",
		Usage: "Also print the compiled bytecode",
	}

	replCommand = cli.Command{
		Action:    withConfig(startREPL),
		Name:      "repl",
		Usage:     "Start the interactive loop",
		ArgsUsage: " ",
		Category:  "EVALUATION COMMANDS",
		Description: `
Reads definitions, externs and expressions from standard input and evaluates
them as they arrive. When standard input is a terminal the loop offers line
editing, history and the meta commands listed by .help.`,
	}
	runCommand = cli.Command{
		Action:    withConfig(runFiles),
		Name:      "run",
		Usage:     "Evaluate source files in a single session",
		ArgsUsage: "<file> [<file>...]",
		Category:  "EVALUATION COMMANDS",
		Description: `
The run command feeds every file through one session in order, so later files
can call functions defined in earlier ones. It fails if any unit reported an
error.`,
	}
	checkCommand = cli.Command{
		Action:    withConfig(checkFiles),
		Name:      "check",
		Usage:     "Compile and evaluate files independently",
		ArgsUsage: "<file> [<file>...]",
		Category:  "EVALUATION COMMANDS",
		Description: `
The check command gives every file its own session and processes them
concurrently, then reports one line per file.`,
	}
	tokensCommand = cli.Command{
		Action:    withConfig(showTokens),
		Name:      "tokens",
		Usage:     "Print the token stream of a file",
		ArgsUsage: "<file>",
		Category:  "INSPECTION COMMANDS",
	}
	astCommand = cli.Command{
		Action:    withConfig(showAST),
		Name:      "ast",
		Usage:     "Print the syntax tree of every top-level unit",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{spewDumpFlag},
		Category:  "INSPECTION COMMANDS",
	}
	irCommand = cli.Command{
		Action:    withConfig(showIR),
		Name:      "ir",
		Usage:     "Print the IR of every top-level unit",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{bytecodeFlag},
		Category:  "INSPECTION COMMANDS",
	}
)

var errNoInput = errors.New("no source file given")

func startREPL(ctx *cli.Context, cfg *kaleidoConfig) error {
	diag, color := diagWriter(cfg.REPL.Color)
	if !isatty.IsTerminal(os.Stdin.Fd()) || !liner.TerminalSupported() {
		session, err := newSession(cfg, cfg.REPL.Prompt, color, diag, os.Stdout)
		if err != nil {
			return err
		}
		return session.Run("<stdin>", os.Stdin)
	}
	session, err := newSession(cfg, "", color, diag, os.Stdout)
	if err != nil {
		return err
	}
	console := newConsole(cfg.REPL.Prompt, cfg.REPL.HistoryFile, session.Meta)
	defer console.Close()

	return session.Run("<stdin>", console)
}

func runFiles(ctx *cli.Context, cfg *kaleidoConfig) error {
	if ctx.NArg() == 0 {
		return errNoInput
	}
	diag, color := diagWriter(cfg.REPL.Color)
	session, err := newSession(cfg, "", color, diag, os.Stdout)
	if err != nil {
		return err
	}
	for _, name := range ctx.Args() {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		err = session.Run(name, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	if n := session.Stats().Errors; n > 0 {
		return fmt.Errorf("%d errors", n)
	}
	return nil
}

func checkFiles(ctx *cli.Context, cfg *kaleidoConfig) error {
	if ctx.NArg() == 0 {
		return errNoInput
	}
	return check(os.Stdout, cfg, ctx.Args())
}

// checkResult is the outcome of checking one file.
type checkResult struct {
	diag   bytes.Buffer
	defs   int
	exprs  int
	errors int
}

// check runs every file through its own session concurrently and reports
// one line per file in argument order.
func check(w io.Writer, cfg *kaleidoConfig, names []string) error {
	results := make([]checkResult, len(names))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			res := &results[i]
			local := *cfg
			local.REPL.DumpIR = false
			session, err := newSession(&local, "", false, &res.diag, io.Discard)
			if err != nil {
				return err
			}
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := session.Run(name, f); err != nil {
				return fmt.Errorf("%s: %v", name, err)
			}
			stats := session.Stats()
			res.defs, res.exprs, res.errors = stats.Definitions, stats.Expressions, stats.Errors
			log.Debug("Checked source file", "file", name, "errors", stats.Errors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for i, name := range names {
		res := &results[i]
		if res.errors == 0 {
			fmt.Fprintf(w, "%s: ok (%d definitions, %d expressions)\n", name, res.defs, res.exprs)
			continue
		}
		failed++
		fmt.Fprintf(w, "%s: %d errors\n", name, res.errors)
		w.Write(res.diag.Bytes())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(names))
	}
	return nil
}

// openInput opens the single file argument of an inspection command.
func openInput(ctx *cli.Context) (*os.File, error) {
	if ctx.NArg() != 1 {
		return nil, errNoInput
	}
	return os.Open(ctx.Args().First())
}

func showTokens(ctx *cli.Context, cfg *kaleidoConfig) error {
	f, err := openInput(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	return printTokens(os.Stdout, f.Name(), f)
}

func printTokens(w io.Writer, filename string, r io.Reader) error {
	lex := lexer.New(filename, r)
	toks := lex.Tokenize()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Pos", "Kind", "Literal", "Value"})
	for _, tok := range toks {
		value := ""
		if tok.Type == token.NUMBER {
			value = fmt.Sprintf("%g", tok.Value)
		}
		table.Append([]string{tok.Pos.String(), tok.Type.String(), tok.Literal, value})
	}
	table.Render()
	return lex.Err()
}

func showAST(ctx *cli.Context, cfg *kaleidoConfig) error {
	f, err := openInput(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	return printAST(os.Stdout, f.Name(), f, ctx.Bool(spewDumpFlag.Name))
}

var astDumper = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func printAST(w io.Writer, filename string, r io.Reader, dump bool) error {
	failed := 0
	err := parseUnits(filename, r, func(u unit) {
		var node ast.Node = u.def
		if u.extern != nil {
			node = u.extern
		}
		switch {
		case dump:
			astDumper.Fdump(w, node)
		case u.extern != nil:
			fmt.Fprintf(w, "extern %s\n", u.extern)
		default:
			fmt.Fprintln(w, u.def)
		}
	}, func(err error) {
		failed++
		fmt.Fprintf(w, "Error: %v\n", err)
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d parse errors", failed)
	}
	return nil
}

func showIR(ctx *cli.Context, cfg *kaleidoConfig) error {
	f, err := openInput(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	return printIR(os.Stdout, cfg, f.Name(), f, ctx.Bool(bytecodeFlag.Name))
}

// printIR lowers every unit and prints its IR. Each definition is taken out
// of the generator as its own module, the way the interactive loop does it.
func printIR(w io.Writer, cfg *kaleidoConfig, filename string, r io.Reader, bytecode bool) error {
	gen, err := irgen.New(cfg.Compiler.irgenConfig())
	if err != nil {
		return err
	}
	failed := 0
	report := func(err error) {
		failed++
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	err = parseUnits(filename, r, func(u unit) {
		if u.extern != nil {
			fn, err := gen.GenerateExtern(u.extern)
			if err != nil {
				report(err)
				return
			}
			fmt.Fprint(w, fn)
			return
		}
		fn, err := gen.GenerateFunction(u.def)
		if err != nil {
			report(err)
			return
		}
		fmt.Fprint(w, fn)
		m := gen.TakeModule()
		if u.def.Proto.IsAnonymous() {
			gen.Forget(ast.AnonName)
		}
		if !bytecode {
			return
		}
		code, err := codegen.Compile(m)
		if err != nil {
			report(err)
			return
		}
		for _, c := range code {
			fmt.Fprint(w, c.Disassemble())
		}
	}, report)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d errors", failed)
	}
	return nil
}

// unit is one top-level item of a source file: a definition, an anonymous
// expression wrapped as a function, or an extern.
type unit struct {
	def    *ast.Function
	extern *ast.Prototype
}

// parseUnits parses r unit by unit. Parse errors go to fail and the parser
// skips one token before carrying on.
func parseUnits(filename string, r io.Reader, visit func(unit), fail func(error)) error {
	lex := lexer.New(filename, r)
	p := parser.New(lex, nil)

	p.Next()
	for {
		var (
			u   unit
			err error
		)
		switch tok := p.Current(); {
		case tok.Type == token.EOF:
			return lex.Err()
		case tok.Is(';'):
			p.Next()
			continue
		case tok.Type == token.DEF:
			u.def, err = p.ParseDefinition()
		case tok.Type == token.EXTERN:
			u.extern, err = p.ParseExtern()
		default:
			u.def, err = p.ParseTopLevelExpr()
		}
		if err != nil {
			fail(err)
			p.Next()
			continue
		}
		visit(u)
	}
}
