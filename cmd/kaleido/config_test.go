// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/go-kaleidoscope/internal/repl"
	"github.com/probechain/go-kaleidoscope/lang/vm"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func flagContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range globalFlags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(newApp(), set, nil)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.True(t, cfg.Compiler.Optimize)
	assert.True(t, cfg.Compiler.Verify)
	assert.Equal(t, vm.DefaultMaxCallDepth, cfg.Engine.MaxCallDepth)
	assert.Equal(t, repl.DefaultPrompt, cfg.REPL.Prompt)
	assert.True(t, cfg.REPL.DumpIR)
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "kaleido.toml", `
[Compiler]
Optimize = false
Passes = ["instcombine", "gvn"]

[Engine]
GasLimit = 5000

[REPL]
Prompt = "> "
`)
	cfg := defaultConfig()
	require.NoError(t, loadConfig(path, &cfg))

	assert.False(t, cfg.Compiler.Optimize)
	assert.Equal(t, []string{"instcombine", "gvn"}, cfg.Compiler.Passes)
	assert.True(t, cfg.Compiler.Verify, "unset keys keep their defaults")
	assert.Equal(t, uint64(5000), cfg.Engine.GasLimit)
	assert.Equal(t, "> ", cfg.REPL.Prompt)
}

func TestLoadConfigUnknownField(t *testing.T) {
	path := writeFile(t, "bad.toml", "[Engine]\nBogus = 1\n")
	cfg := defaultConfig()
	err := loadConfig(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bogus")
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "kaleido.toml", "[Engine]\nGasLimit = 5000\n[REPL]\nDumpIR = true\n")
	ctx := flagContext(t, "--config", path, "--gas", "100", "--dumpir=false", "--passes", "gvn, simplifycfg")

	cfg, err := makeConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cfg.Engine.GasLimit)
	assert.False(t, cfg.REPL.DumpIR)
	assert.Equal(t, []string{"gvn", "simplifycfg"}, cfg.Compiler.Passes)
	assert.True(t, cfg.Compiler.Optimize, "unset flags leave the config alone")
}

func TestMissingConfigFile(t *testing.T) {
	ctx := flagContext(t, "--config", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := makeConfig(ctx)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a,,b ,"))
	assert.Nil(t, splitList(""))
}
