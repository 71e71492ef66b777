// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package main

import (
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/peterh/liner"
)

// prompter reads one line of user input.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// console turns an interactive line editor into the byte stream the lexer
// reads. Lines starting with '.' are offered to meta first and only reach
// the stream when meta does not know them.
type console struct {
	line    prompter
	prompt  string
	meta    func(string) bool
	buf     []byte
	state   *liner.State // nil when line is not backed by a terminal
	history string
}

func newConsole(prompt, history string, meta func(string) bool) *console {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	c := &console{line: state, prompt: prompt, meta: meta, state: state, history: history}
	if history != "" {
		if f, err := os.Open(history); err == nil {
			state.ReadHistory(f)
			f.Close()
		}
	}
	return c
}

// Read implements io.Reader. End of input from the terminal is io.EOF. An
// interrupted line is discarded and the prompt shown again.
func (c *console) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		line, err := c.line.Prompt(c.prompt)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			return 0, io.EOF
		}
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			c.line.AppendHistory(line)
		}
		if strings.HasPrefix(trimmed, ".") && c.meta != nil && c.meta(trimmed) {
			continue
		}
		c.buf = append([]byte(line), '\n')
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Close saves the history and restores the terminal.
func (c *console) Close() error {
	if c.state == nil {
		return nil
	}
	if c.history != "" {
		if f, err := os.Create(c.history); err != nil {
			log.Warn("Failed to save console history", "file", c.history, "err", err)
		} else {
			c.state.WriteHistory(f)
			f.Close()
		}
	}
	return c.state.Close()
}
