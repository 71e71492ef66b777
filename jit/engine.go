// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package jit is the execution engine behind the interactive driver. It
// accepts whole IR modules, compiles them to VM bytecode, and resolves
// symbols by name across every live module and the host library.
//
// Symbols are bound lazily: a call is linked to its callee the first time it
// executes, so a module may reference functions added later. When several
// modules define the same name the most recently added one wins.
package jit

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/go-kaleidoscope/lang/codegen"
	"github.com/probechain/go-kaleidoscope/lang/ir"
	"github.com/probechain/go-kaleidoscope/lang/vm"
)

var (
	// ErrSymbolNotFound is returned when no module or host function defines
	// a name.
	ErrSymbolNotFound = errors.New("jit: symbol not found")

	// ErrInvalidModule is returned when a module fails IR or bytecode
	// verification.
	ErrInvalidModule = errors.New("jit: invalid module")

	// ErrUnknownModule is returned when removing a handle that is not live.
	ErrUnknownModule = errors.New("jit: unknown module handle")
)

// DataLayout describes the value model of the engine: little-endian, every
// value a 64-bit double.
const DataLayout = "e-f64:64:64-n64-S64"

// Target identifies what the engine compiles for.
type Target struct {
	Triple     string
	DataLayout string
}

// ModuleHandle identifies a module added to the engine.
type ModuleHandle uint64

// Config bounds every execution started by the engine.
type Config struct {
	GasLimit        uint64 // zero means unlimited
	MaxCallDepth    int    // zero selects vm.DefaultMaxCallDepth
	SymbolCacheSize int    // entries in the symbol lookup cache
}

// DefaultConfig returns the settings used by the interactive driver.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:    vm.DefaultMaxCallDepth,
		SymbolCacheSize: 256,
	}
}

type module struct {
	handle ModuleHandle
	name   string
	funcs  map[string]*vm.Function
}

// Engine owns compiled modules and host functions. It is not safe for
// concurrent use; every session builds its own engine.
type Engine struct {
	cfg  Config
	host map[string]*vm.HostFunc

	modules    []*module // oldest first
	nextHandle ModuleHandle
	symbols    *lru.Cache // name -> vm.Callable

	log log.Logger
}

// New creates an engine exposing host to extern declarations.
func New(cfg Config, host []*vm.HostFunc) (*Engine, error) {
	size := cfg.SymbolCacheSize
	if size <= 0 {
		size = DefaultConfig().SymbolCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		host:    make(map[string]*vm.HostFunc, len(host)),
		symbols: cache,
		log:     log.New("pkg", "jit"),
	}
	for _, h := range host {
		e.host[h.Name] = h
	}
	return e, nil
}

// Target reports the triple and data layout modules should be built for.
func (e *Engine) Target() Target {
	return Target{
		Triple:     fmt.Sprintf("kvm64-%s-%s", runtime.GOOS, runtime.GOARCH),
		DataLayout: DataLayout,
	}
}

// AddModule verifies and compiles every function defined in m. The engine
// keeps no reference to m afterwards.
func (e *Engine) AddModule(m *ir.Module) (ModuleHandle, error) {
	if errs := ir.VerifyModule(m); len(errs) > 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidModule, &errs[0])
	}
	fns, err := codegen.Compile(m)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}
	mod := &module{name: m.Name, funcs: make(map[string]*vm.Function, len(fns))}
	names := make([]string, 0, len(fns))
	for _, fn := range fns {
		if errs := codegen.Verify(fn); len(errs) > 0 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidModule, &errs[0])
		}
		mod.funcs[fn.Name] = fn
		names = append(names, fn.Name)
	}

	e.nextHandle++
	mod.handle = e.nextHandle
	e.modules = append(e.modules, mod)
	e.symbols.Purge()

	e.log.Debug("Added module", "handle", mod.handle, "name", mod.name, "functions", names)
	return mod.handle, nil
}

// RemoveModule discards a module and every symbol it defined.
func (e *Engine) RemoveModule(h ModuleHandle) error {
	for i, mod := range e.modules {
		if mod.handle == h {
			e.modules = append(e.modules[:i], e.modules[i+1:]...)
			e.symbols.Purge()
			e.log.Debug("Removed module", "handle", h, "name", mod.name)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownModule, h)
}

// Modules returns the number of live modules.
func (e *Engine) Modules() int {
	return len(e.modules)
}

// Symbols returns the names defined by live modules, sorted.
func (e *Engine) Symbols() []string {
	seen := make(map[string]bool)
	var names []string
	for _, mod := range e.modules {
		for name := range mod.funcs {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// FindSymbol resolves name, searching modules newest first and then the
// host library.
func (e *Engine) FindSymbol(name string) (vm.Callable, error) {
	if c, ok := e.symbols.Get(name); ok {
		return c.(vm.Callable), nil
	}
	for i := len(e.modules) - 1; i >= 0; i-- {
		if fn, ok := e.modules[i].funcs[name]; ok {
			e.symbols.Add(name, fn)
			return fn, nil
		}
	}
	if h, ok := e.host[name]; ok {
		e.symbols.Add(name, h)
		return h, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
}

// Resolve implements vm.Resolver.
func (e *Engine) Resolve(name string) (vm.Callable, error) {
	return e.FindSymbol(name)
}

// Call looks up name and runs it with args on a fresh VM.
func (e *Engine) Call(name string, args ...float64) (float64, error) {
	fn, err := e.FindSymbol(name)
	if err != nil {
		return 0, err
	}
	machine := vm.New(e, vm.Config{GasLimit: e.cfg.GasLimit, MaxCallDepth: e.cfg.MaxCallDepth})
	result, err := machine.Call(fn, args...)
	e.log.Trace("Executed symbol", "name", name, "gas", machine.GasUsed(), "err", err)
	return result, err
}
