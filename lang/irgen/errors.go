// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package irgen

import (
	"errors"
	"fmt"

	"github.com/probechain/go-kaleidoscope/lang/token"
)

// Kind classifies code generation failures.
type Kind int

const (
	UnknownVariable Kind = iota
	UnknownFunction
	ArityMismatch
	InvalidOperator
	Redefinition
	ConflictingDeclaration
	Verification
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrUnknownVariable        = errors.New("unknown variable name")
	ErrUnknownFunction        = errors.New("unknown function referenced")
	ErrArityMismatch          = errors.New("incorrect number of arguments")
	ErrInvalidOperator        = errors.New("invalid binary operator")
	ErrRedefinition           = errors.New("function cannot be redefined")
	ErrConflictingDeclaration = errors.New("conflicting declaration")
	ErrVerification           = errors.New("function failed verification")
)

var kindErrors = map[Kind]error{
	UnknownVariable:        ErrUnknownVariable,
	UnknownFunction:        ErrUnknownFunction,
	ArityMismatch:          ErrArityMismatch,
	InvalidOperator:        ErrInvalidOperator,
	Redefinition:           ErrRedefinition,
	ConflictingDeclaration: ErrConflictingDeclaration,
	Verification:           ErrVerification,
}

func (k Kind) String() string {
	if err, ok := kindErrors[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a code generation failure.
type Error struct {
	Kind Kind
	Name string         // offending variable, function or operator
	Pos  token.Position // zero when unknown
	Msg  string
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Name != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Name)
	}
	if e.Pos.Line > 0 {
		msg = fmt.Sprintf("%s: %s", e.Pos, msg)
	}
	return msg
}

// Unwrap exposes the sentinel of the error's kind.
func (e *Error) Unwrap() error {
	return kindErrors[e.Kind]
}

func newError(kind Kind, pos token.Position, name, msg string) *Error {
	return &Error{Kind: kind, Name: name, Pos: pos, Msg: msg}
}
