// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// kaleido is the Kaleidoscope compiler and interactive evaluator.
//
// Usage:
//
//	kaleido [flags]                 start the interactive loop
//	kaleido [flags] run <file>...   evaluate source files in one session
//	kaleido tokens|ast|ir <file>    show an intermediate stage
//	kaleido check <file>...         compile files independently
//	kaleido dumpconfig [<file>]     print the effective configuration
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/go-kaleidoscope/lang/vm"
)

const version = "0.1.0"

var (
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: int(log.LvlWarn),
	}
	optimizeFlag = cli.BoolTFlag{
		Name:  "optimize",
		Usage: "Run the optimisation pipeline on every function",
	}
	passesFlag = cli.StringFlag{
		Name:  "passes",
		Usage: "Comma separated optimisation passes (instcombine,reassociate,gvn,simplifycfg)",
	}
	verifyFlag = cli.BoolTFlag{
		Name:  "verify",
		Usage: "Verify IR and bytecode before execution",
	}
	gasFlag = cli.Uint64Flag{
		Name:  "gas",
		Usage: "Gas limit for each evaluated expression (0 = unlimited)",
	}
	callDepthFlag = cli.IntFlag{
		Name:  "maxdepth",
		Usage: "Maximum call depth",
		Value: vm.DefaultMaxCallDepth,
	}
	promptFlag = cli.StringFlag{
		Name:  "prompt",
		Usage: "Interactive prompt",
	}
	historyFlag = cli.StringFlag{
		Name:  "history",
		Usage: "File that keeps interactive line history",
	}
	dumpIRFlag = cli.BoolTFlag{
		Name:  "dumpir",
		Usage: "Print the IR of every accepted unit",
	}
	colorFlag = cli.BoolTFlag{
		Name:  "color",
		Usage: "Colour diagnostics when writing to a terminal",
	}

	globalFlags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
		optimizeFlag,
		passesFlag,
		verifyFlag,
		gasFlag,
		callDepthFlag,
		promptFlag,
		historyFlag,
		dumpIRFlag,
		colorFlag,
	}
)

var app = newApp()

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "kaleido"
	app.Usage = "the Kaleidoscope compiler and evaluator"
	app.Version = version
	app.Flags = globalFlags
	app.Action = replCommand.Action
	app.Commands = []cli.Command{
		replCommand,
		runCommand,
		tokensCommand,
		astCommand,
		irCommand,
		checkCommand,
		dumpConfigCommand,
	}
	return app
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withConfig loads the configuration and sets up logging before running
// action.
func withConfig(action func(*cli.Context, *kaleidoConfig) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Verbosity)
		return action(ctx, &cfg)
	}
}

func setupLogging(verbosity int) {
	usecolor := useColor(os.Stderr)
	output := io.Writer(os.Stderr)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	glogger := log.NewGlogHandler(log.StreamHandler(output, log.TerminalFormat(usecolor)))
	glogger.Verbosity(log.Lvl(verbosity))
	log.Root().SetHandler(glogger)
}

func useColor(f *os.File) bool {
	fd := f.Fd()
	return (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("TERM") != "dumb"
}

// diagWriter returns the stream diagnostics go to and whether it may carry
// colour escapes.
func diagWriter(enabled bool) (io.Writer, bool) {
	if enabled && useColor(os.Stderr) {
		return colorable.NewColorableStderr(), true
	}
	return os.Stderr, false
}
