// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/go-kaleidoscope/internal/repl"
	"github.com/probechain/go-kaleidoscope/jit"
	"github.com/probechain/go-kaleidoscope/lang/irgen"
	"github.com/probechain/go-kaleidoscope/stdlib/math"
)

var (
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   "[<file>]",
		Category:    "MISCELLANEOUS COMMANDS",
		Description: `The dumpconfig command shows configuration values.`,
	}

	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

type compilerConfig struct {
	Optimize bool
	Passes   []string `toml:",omitempty"`
	Verify   bool
}

type replConfig struct {
	Prompt      string
	HistoryFile string `toml:",omitempty"`
	DumpIR      bool
	Color       bool
}

type logConfig struct {
	Verbosity int
}

type kaleidoConfig struct {
	Compiler compilerConfig
	Engine   jit.Config
	REPL     replConfig
	Log      logConfig
}

func defaultConfig() kaleidoConfig {
	return kaleidoConfig{
		Compiler: compilerConfig{Optimize: true, Verify: true},
		Engine:   jit.DefaultConfig(),
		REPL: replConfig{
			Prompt: repl.DefaultPrompt,
			DumpIR: true,
			Color:  true,
		},
		Log: logConfig{Verbosity: int(log.LvlWarn)},
	}
}

func loadConfig(file string, cfg *kaleidoConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the defaults, then the config file, then applies flags.
func makeConfig(ctx *cli.Context) (kaleidoConfig, error) {
	cfg := defaultConfig()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	applyCompilerFlags(ctx, &cfg.Compiler)
	applyEngineFlags(ctx, &cfg.Engine)
	applyREPLFlags(ctx, &cfg.REPL)
	if ctx.GlobalIsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.GlobalInt(verbosityFlag.Name)
	}
	return cfg, nil
}

func applyCompilerFlags(ctx *cli.Context, cfg *compilerConfig) {
	if ctx.GlobalIsSet(optimizeFlag.Name) {
		cfg.Optimize = ctx.GlobalBoolT(optimizeFlag.Name)
	}
	if ctx.GlobalIsSet(passesFlag.Name) {
		cfg.Passes = splitList(ctx.GlobalString(passesFlag.Name))
	}
	if ctx.GlobalIsSet(verifyFlag.Name) {
		cfg.Verify = ctx.GlobalBoolT(verifyFlag.Name)
	}
}

func applyEngineFlags(ctx *cli.Context, cfg *jit.Config) {
	if ctx.GlobalIsSet(gasFlag.Name) {
		cfg.GasLimit = ctx.GlobalUint64(gasFlag.Name)
	}
	if ctx.GlobalIsSet(callDepthFlag.Name) {
		cfg.MaxCallDepth = ctx.GlobalInt(callDepthFlag.Name)
	}
}

func applyREPLFlags(ctx *cli.Context, cfg *replConfig) {
	if ctx.GlobalIsSet(promptFlag.Name) {
		cfg.Prompt = ctx.GlobalString(promptFlag.Name)
	}
	if ctx.GlobalIsSet(historyFlag.Name) {
		cfg.HistoryFile = ctx.GlobalString(historyFlag.Name)
	}
	if ctx.GlobalIsSet(dumpIRFlag.Name) {
		cfg.DumpIR = ctx.GlobalBoolT(dumpIRFlag.Name)
	}
	if ctx.GlobalIsSet(colorFlag.Name) {
		cfg.Color = ctx.GlobalBoolT(colorFlag.Name)
	}
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (c *compilerConfig) irgenConfig() irgen.Config {
	cfg := irgen.DefaultConfig()
	cfg.Optimize = c.Optimize
	cfg.Passes = c.Passes
	cfg.Verify = c.Verify
	return cfg
}

// newSession wires a generator, an engine with the math library and a
// driver session. Host output such as putchard goes to out.
func newSession(cfg *kaleidoConfig, prompt string, color bool, diag, out io.Writer) (*repl.Session, error) {
	gen, err := irgen.New(cfg.Compiler.irgenConfig())
	if err != nil {
		return nil, err
	}
	engine, err := jit.New(cfg.Engine, math.Library(out))
	if err != nil {
		return nil, err
	}
	return repl.New(repl.Config{
		Prompt: prompt,
		DumpIR: cfg.REPL.DumpIR,
		Color:  color,
	}, gen, engine, diag), nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)

	return nil
}
