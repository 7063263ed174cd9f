// Package runner executes external commands, optionally under another OS
// identity, and reports their output and exit status without treating a
// failed command as a Go error.
package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
)

// Runner executes a command and reports what happened. A failed external
// command is described by the Result, never by a panic or a separate error.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// Command is an argv plus the values that must never appear in logs.
type Command struct {
	Args    []string
	Secrets []string
}

// NewCommand builds a Command from argv.
func NewCommand(args ...string) Command {
	return Command{Args: args}
}

// WithSecret marks a value to be masked when the command is printed.
func (c Command) WithSecret(secret string) Command {
	if secret != "" {
		c.Secrets = append(append([]string(nil), c.Secrets...), secret)
	}
	return c
}

// Line renders the command as a single shell-quoted line.
func (c Command) Line() string {
	quoted := make([]string, len(c.Args))
	for i, a := range c.Args {
		quoted[i] = shellescape.Quote(a)
	}
	return strings.Join(quoted, " ")
}

// String renders the command with secrets masked.
func (c Command) String() string {
	line := c.Line()
	for _, s := range c.Secrets {
		line = strings.ReplaceAll(line, shellescape.Quote(s), "'****'")
		line = strings.ReplaceAll(line, s, "****")
	}
	return line
}

// Result is the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is set when the command could not be run at all: the identity
	// was unreachable, the shell died or the context ended.
	Err error
}

// Failed reports a non-zero exit or a failure to run.
func (r Result) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Output is stdout followed by stderr.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
}

// Describe summarizes a failed result for error messages.
func (r Result) Describe() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	out := strings.TrimSpace(r.Output())
	if out == "" {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", r.ExitCode, out)
}
