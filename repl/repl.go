// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrQuit ends Run without it reporting an error
var ErrQuit = errors.New("quit")

// CommandFunc handles one command line. args are the whitespace separated words after the name
type CommandFunc func(args []string, r *Repl) (string, error)

type command struct {
	usage string
	run   CommandFunc
}

// ReadCloser combines the Reader and Closer interfaces
type ReadCloser interface {
	io.Reader
	io.Closer
}

type Repl struct {
	Input    ReadCloser
	Output   io.WriteCloser
	scanner  *bufio.Scanner
	writer   *bufio.Writer
	commands map[string]command
}

// Creates a new repl
// If no input is given, stdin will be used
// If no output is given, stdout will be used
// Note: The given reader and writer will be closed once Run returns
func NewRepl(in ReadCloser, out io.WriteCloser) *Repl {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	r := &Repl{
		Input:    in,
		Output:   out,
		scanner:  bufio.NewScanner(in),
		writer:   bufio.NewWriter(out),
		commands: map[string]command{},
	}
	r.Handle("help", "help: list commands", func([]string, *Repl) (string, error) {
		return r.help(), nil
	})
	return r
}

// Handle registers a command. A later registration of the same name replaces the earlier one
func (r *Repl) Handle(name, usage string, run CommandFunc) {
	r.commands[name] = command{usage: usage, run: run}
}

func (r *Repl) help() string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = r.commands[name].usage
	}
	return strings.Join(lines, "\n")
}

// Dispatch runs the command named by the first word of line
func (r *Repl) Dispatch(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, ok := r.commands[fields[0]]
	if !ok {
		return fmt.Sprintf("Unknown command %q, try help", fields[0]), nil
	}
	return cmd.run(fields[1:], r)
}

// Starts the repl
// Blocks execution until the input ends or a command fails
// A command returning ErrQuit still gets its result written
func (r *Repl) Run() error {
	defer r.Close()
	for r.scanner.Scan() {
		line := r.scanner.Text()
		res, err := r.Dispatch(line)
		quit := errors.Is(err, ErrQuit)
		if err != nil && !quit {
			return fmt.Errorf("command %q failed: %w", line, err)
		}
		if res != "" {
			if _, err := r.writer.WriteString(res + "\n"); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}
		}
		if err := r.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush writer: %w", err)
		}
		if quit {
			return nil
		}
	}
	return r.scanner.Err()
}

// Close stops the repl if it was still running
// This will also close the reader and writer
func (r *Repl) Close() {
	r.Input.Close()
	r.Output.Close()
}
