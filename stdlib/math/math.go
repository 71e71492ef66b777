// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package math provides the host functions that Kaleidoscope programs reach
// through extern declarations.
//
// The numeric functions mirror the C math library on doubles. putchard and
// printd write to the library's output and return 0.
package math

import (
	"fmt"
	"io"
	stdmath "math"

	"github.com/probechain/go-kaleidoscope/lang/vm"
)

func unary(name string, f func(float64) float64) *vm.HostFunc {
	return &vm.HostFunc{Name: name, Params: 1, Fn: func(args []float64) float64 {
		return f(args[0])
	}}
}

func binary(name string, f func(float64, float64) float64) *vm.HostFunc {
	return &vm.HostFunc{Name: name, Params: 2, Fn: func(args []float64) float64 {
		return f(args[0], args[1])
	}}
}

// Library returns every host function. Output from putchard and printd goes
// to out; a nil out discards it.
func Library(out io.Writer) []*vm.HostFunc {
	if out == nil {
		out = io.Discard
	}
	return []*vm.HostFunc{
		unary("sin", stdmath.Sin),
		unary("cos", stdmath.Cos),
		unary("tan", stdmath.Tan),
		unary("atan", stdmath.Atan),
		binary("atan2", stdmath.Atan2),
		unary("sqrt", stdmath.Sqrt),
		unary("exp", stdmath.Exp),
		unary("log", stdmath.Log),
		binary("pow", stdmath.Pow),
		unary("fabs", stdmath.Abs),
		unary("floor", stdmath.Floor),
		unary("ceil", stdmath.Ceil),
		binary("fmod", stdmath.Mod),
		unary("putchard", func(x float64) float64 {
			out.Write([]byte{byte(int64(x))})
			return 0
		}),
		unary("printd", func(x float64) float64 {
			fmt.Fprintf(out, "%f\n", x)
			return 0
		}),
	}
}

// Lookup returns the host function called name.
func Lookup(lib []*vm.HostFunc, name string) (*vm.HostFunc, bool) {
	for _, h := range lib {
		if h.Name == name {
			return h, true
		}
	}
	return nil, false
}
