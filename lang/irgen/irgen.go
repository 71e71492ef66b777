// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package irgen lowers Kaleidoscope syntax trees to SSA IR.
//
// A Generator owns the module currently being filled, the IR builder, the
// symbol table of the function being lowered and a cache of every prototype
// seen so far. The cache outlives modules: once a module has been handed to
// the execution engine the generator starts a fresh one, and calls to
// functions defined earlier are satisfied by re-declaring them from the
// cached prototype.
package irgen

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"

	"github.com/probechain/go-kaleidoscope/lang/ast"
	"github.com/probechain/go-kaleidoscope/lang/ir"
)

// DefaultModuleName names modules created by a generator with no configured
// name.
const DefaultModuleName = "my cool jit"

// Config controls lowering.
type Config struct {
	ModuleName string   // name given to every new module
	DataLayout string   // copied into every new module
	Optimize   bool     // run Passes on each lowered function
	Passes     []string // pass pipeline, nil selects ir.DefaultPasses
	Verify     bool     // verify each function before optimising it
}

// DefaultConfig returns the configuration used by the interactive driver.
func DefaultConfig() Config {
	return Config{
		ModuleName: DefaultModuleName,
		Optimize:   true,
		Verify:     true,
	}
}

// Generator lowers top-level items into the current module.
type Generator struct {
	cfg     Config
	module  *ir.Module
	builder *ir.Builder
	passes  *ir.PassManager // nil when optimisation is off

	protos  map[string]*ast.Prototype // last prototype seen per name
	named   map[string]ir.Value       // parameters and loop variables in scope
	defined mapset.Set                // names with a body, in any module

	log log.Logger
}

// New creates a generator with an empty current module.
func New(cfg Config) (*Generator, error) {
	if cfg.ModuleName == "" {
		cfg.ModuleName = DefaultModuleName
	}
	g := &Generator{
		cfg:     cfg,
		protos:  make(map[string]*ast.Prototype),
		defined: mapset.NewSet(),
		log:     log.New("pkg", "irgen"),
	}
	if cfg.Optimize {
		names := cfg.Passes
		if names == nil {
			names = ir.DefaultPasses()
		}
		pm, err := ir.NewPassManager(names...)
		if err != nil {
			return nil, err
		}
		g.passes = pm
	}
	g.module = g.freshModule()
	g.builder = ir.NewBuilder(g.module)
	return g, nil
}

func (g *Generator) freshModule() *ir.Module {
	m := ir.NewModule(g.cfg.ModuleName)
	m.DataLayout = g.cfg.DataLayout
	return m
}

// Module returns the module currently being filled.
func (g *Generator) Module() *ir.Module {
	return g.module
}

// TakeModule returns the current module and replaces it with an empty one.
// Ownership of the returned module passes to the caller.
func (g *Generator) TakeModule() *ir.Module {
	m := g.module
	g.module = g.freshModule()
	g.builder.SetModule(g.module)
	return m
}

// SetDataLayout changes the layout stamped on the current and future modules.
func (g *Generator) SetDataLayout(layout string) {
	g.cfg.DataLayout = layout
	g.module.DataLayout = layout
}

// Prototype returns the cached prototype for name.
func (g *Generator) Prototype(name string) (*ast.Prototype, bool) {
	p, ok := g.protos[name]
	return p, ok
}

// Prototypes returns every cached prototype ordered by name.
func (g *Generator) Prototypes() []*ast.Prototype {
	list := make([]*ast.Prototype, 0, len(g.protos))
	for _, p := range g.protos {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Defined reports whether a body for name has been generated.
func (g *Generator) Defined(name string) bool {
	return g.defined.Contains(name)
}

// Forget drops name from the prototype cache and the set of defined
// functions, allowing it to be defined again. The driver uses it for the
// anonymous wrapper and for definitions the engine rejected.
func (g *Generator) Forget(name string) {
	delete(g.protos, name)
	g.defined.Remove(name)
}

// getFunction finds name in the current module, declaring it from the
// prototype cache if needed. It returns nil for unknown names.
func (g *Generator) getFunction(name string) *ir.Function {
	if fn := g.module.Function(name); fn != nil {
		return fn
	}
	if p, ok := g.protos[name]; ok {
		return g.module.Declare(p.Name, p.Params)
	}
	return nil
}

// GenerateExtern declares p in the current module and caches it.
func (g *Generator) GenerateExtern(p *ast.Prototype) (*ir.Function, error) {
	if fn := g.module.Function(p.Name); fn != nil {
		if fn.Arity() != p.Arity() {
			return nil, g.conflict(p, fn.Arity())
		}
		g.protos[p.Name] = p
		return fn, nil
	}
	if prev, ok := g.protos[p.Name]; ok && g.defined.Contains(p.Name) && prev.Arity() != p.Arity() {
		return nil, g.conflict(p, prev.Arity())
	}
	fn := g.module.Declare(p.Name, p.Params)
	g.protos[p.Name] = p
	g.log.Debug("Declared extern", "name", p.Name, "arity", p.Arity())
	return fn, nil
}

func (g *Generator) conflict(p *ast.Prototype, have int) error {
	msg := fmt.Sprintf("Function redeclared with %d parameters, previously %d", p.Arity(), have)
	return newError(ConflictingDeclaration, p.Pos(), p.Name, msg)
}

// GenerateFunction lowers a definition into the current module. On failure
// the partially built function is erased and the prototype cache restored;
// declarations pulled in for callees stay in the module.
func (g *Generator) GenerateFunction(f *ast.Function) (*ir.Function, error) {
	p := f.Proto
	// A name stays defined after its module is handed off; only Forget
	// releases it.
	if g.defined.Contains(p.Name) {
		return nil, newError(Redefinition, p.Pos(), p.Name, "Function cannot be redefined.")
	}
	if fn := g.module.Function(p.Name); fn != nil {
		if !fn.IsDeclaration() {
			return nil, newError(Redefinition, p.Pos(), p.Name, "Function cannot be redefined.")
		}
		if fn.Arity() != p.Arity() {
			return nil, g.conflict(p, fn.Arity())
		}
		// Parameters take the names used by the definition.
		if !sameNames(fn, p.Params) {
			g.module.RemoveFunction(fn)
		}
	}
	prev, cached := g.protos[p.Name]
	g.protos[p.Name] = p
	fn := g.getFunction(p.Name)
	fail := func(err error) (*ir.Function, error) {
		g.module.RemoveFunction(fn)
		if cached {
			g.protos[p.Name] = prev
		} else {
			delete(g.protos, p.Name)
		}
		return nil, err
	}

	g.builder.StartFunction(fn)
	g.builder.SetBlock(g.builder.NewBlock("entry"))
	g.named = make(map[string]ir.Value, len(p.Params))
	for i, name := range p.Params {
		g.named[name] = fn.Params[i]
	}
	body, err := g.genExpr(f.Body)
	if err != nil {
		return fail(err)
	}
	g.builder.EmitReturn(body)

	if g.cfg.Verify {
		if errs := ir.Verify(fn); len(errs) > 0 {
			return fail(newError(Verification, p.Pos(), p.Name, errs[0].Error()))
		}
	}
	if g.passes != nil {
		g.passes.Run(fn)
	}
	g.defined.Add(p.Name)
	g.log.Debug("Generated function", "name", p.Name, "blocks", len(fn.Blocks), "values", fn.Locals)
	return fn, nil
}

func sameNames(fn *ir.Function, params []string) bool {
	for i, v := range fn.Params {
		if v.Name != params[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Expression lowering
// ---------------------------------------------------------------------------

func (g *Generator) genExpr(e ast.Expression) (ir.Value, error) {
	switch e := e.(type) {
	case *ast.NumberExpr:
		return g.builder.EmitConst(e.Value), nil
	case *ast.VariableExpr:
		v, ok := g.named[e.Name]
		if !ok {
			return ir.Value{}, newError(UnknownVariable, e.Pos(), e.Name, "Unknown variable name")
		}
		return v, nil
	case *ast.BinaryExpr:
		return g.genBinary(e)
	case *ast.CallExpr:
		return g.genCall(e)
	case *ast.IfExpr:
		return g.genIf(e)
	case *ast.ForExpr:
		return g.genFor(e)
	default:
		return ir.Value{}, fmt.Errorf("irgen: unexpected expression %T", e)
	}
}

func (g *Generator) genBinary(e *ast.BinaryExpr) (ir.Value, error) {
	l, err := g.genExpr(e.LHS)
	if err != nil {
		return ir.Value{}, err
	}
	r, err := g.genExpr(e.RHS)
	if err != nil {
		return ir.Value{}, err
	}
	switch e.Op {
	case '+':
		return g.builder.EmitBinary(ir.OpFAdd, l, r, "addtmp"), nil
	case '-':
		return g.builder.EmitBinary(ir.OpFSub, l, r, "subtmp"), nil
	case '*':
		return g.builder.EmitBinary(ir.OpFMul, l, r, "multmp"), nil
	case '<':
		cmp := g.builder.EmitBinary(ir.OpFCmpULT, l, r, "cmptmp")
		return g.builder.EmitUIToFP(cmp, "booltmp"), nil
	default:
		return ir.Value{}, newError(InvalidOperator, e.Token.Pos, string(e.Op), "invalid binary operator")
	}
}

func (g *Generator) genCall(e *ast.CallExpr) (ir.Value, error) {
	callee := g.getFunction(e.Callee)
	if callee == nil {
		return ir.Value{}, newError(UnknownFunction, e.Pos(), e.Callee, "Unknown function referenced")
	}
	if callee.Arity() != len(e.Args) {
		msg := fmt.Sprintf("Incorrect #arguments passed (want %d, got %d)", callee.Arity(), len(e.Args))
		return ir.Value{}, newError(ArityMismatch, e.Pos(), e.Callee, msg)
	}
	args := make([]ir.Value, 0, len(e.Args))
	for _, arg := range e.Args {
		v, err := g.genExpr(arg)
		if err != nil {
			return ir.Value{}, err
		}
		args = append(args, v)
	}
	return g.builder.EmitCall(callee, args, "calltmp"), nil
}

// genIf lowers a conditional to a diamond joined by a phi. The phi's incoming
// blocks are the blocks current at the end of each arm, since nested control
// flow may have moved the insertion point.
func (g *Generator) genIf(e *ast.IfExpr) (ir.Value, error) {
	cond, err := g.genExpr(e.Cond)
	if err != nil {
		return ir.Value{}, err
	}
	zero := g.builder.EmitConst(0)
	test := g.builder.EmitBinary(ir.OpFCmpONE, cond, zero, "ifcond")

	thenBB := g.builder.NewBlock("then")
	elseBB := g.builder.CreateBlock("else")
	mergeBB := g.builder.CreateBlock("ifcont")
	g.builder.EmitCondBranch(test, thenBB, elseBB)

	g.builder.SetBlock(thenBB)
	thenV, err := g.genExpr(e.Then)
	if err != nil {
		return ir.Value{}, err
	}
	g.builder.EmitBranch(mergeBB)
	thenEnd := g.builder.Block()

	g.builder.AppendBlock(elseBB)
	g.builder.SetBlock(elseBB)
	elseV, err := g.genExpr(e.Else)
	if err != nil {
		return ir.Value{}, err
	}
	g.builder.EmitBranch(mergeBB)
	elseEnd := g.builder.Block()

	g.builder.AppendBlock(mergeBB)
	g.builder.SetBlock(mergeBB)
	phi := g.builder.EmitPhi(ir.TypeDouble, "iftmp")
	phi.AddIncoming(thenV, thenEnd)
	phi.AddIncoming(elseV, elseEnd)
	return phi.Result, nil
}

// genFor lowers a counted loop. The body runs before the end condition is
// tested, so it executes at least once. The loop variable is a phi in the
// loop header that shadows any outer binding of the same name for the
// duration of the loop. The expression always yields 0.
func (g *Generator) genFor(e *ast.ForExpr) (ir.Value, error) {
	start, err := g.genExpr(e.Start)
	if err != nil {
		return ir.Value{}, err
	}
	preheader := g.builder.Block()
	loopBB := g.builder.NewBlock("loop")
	g.builder.EmitBranch(loopBB)

	g.builder.SetBlock(loopBB)
	variable := g.builder.EmitPhi(ir.TypeDouble, e.Var)
	variable.AddIncoming(start, preheader)

	old, shadowed := g.named[e.Var]
	g.named[e.Var] = variable.Result
	defer func() {
		if shadowed {
			g.named[e.Var] = old
		} else {
			delete(g.named, e.Var)
		}
	}()

	if _, err := g.genExpr(e.Body); err != nil {
		return ir.Value{}, err
	}
	var step ir.Value
	if e.Step != nil {
		if step, err = g.genExpr(e.Step); err != nil {
			return ir.Value{}, err
		}
	} else {
		step = g.builder.EmitConst(1)
	}
	next := g.builder.EmitBinary(ir.OpFAdd, variable.Result, step, "nextvar")

	end, err := g.genExpr(e.End)
	if err != nil {
		return ir.Value{}, err
	}
	zero := g.builder.EmitConst(0)
	test := g.builder.EmitBinary(ir.OpFCmpONE, end, zero, "loopcond")

	loopEnd := g.builder.Block()
	afterBB := g.builder.NewBlock("afterloop")
	g.builder.EmitCondBranch(test, loopBB, afterBB)
	g.builder.SetBlock(afterBB)
	variable.AddIncoming(next, loopEnd)

	return g.builder.EmitConst(0), nil
}
