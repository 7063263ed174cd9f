// Package runnertest provides a scripted Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"db2backup/internal/runner"
)

// Rule answers every command whose line contains Match.
type Rule struct {
	Match string
	// Results are returned in order; the last one repeats.
	Results []runner.Result
	// Do runs before the result is returned, e.g. to create files.
	Do func(cmd runner.Command)

	calls int
}

// Script is a Runner that answers from rules and records every call.
// Unmatched commands succeed with empty output.
type Script struct {
	mu    sync.Mutex
	rules []*Rule
	calls []runner.Command
}

// New creates an empty Script.
func New() *Script {
	return &Script{}
}

// On registers a rule. Later rules take precedence over earlier ones.
func (s *Script) On(match string, results ...runner.Result) *Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Rule{Match: match, Results: results}
	s.rules = append(s.rules, r)
	return r
}

// Fail registers a rule answering with a failed result and output.
func (s *Script) Fail(match string, exitCode int, output string) *Rule {
	return s.On(match, runner.Result{ExitCode: exitCode, Stdout: output})
}

// Ok registers a rule answering with a successful result and output.
func (s *Script) Ok(match string, output string) *Rule {
	return s.On(match, runner.Result{Stdout: output})
}

// Run implements runner.Runner.
func (s *Script) Run(ctx context.Context, cmd runner.Command) runner.Result {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	line := cmd.Line()
	var rule *Rule
	for i := len(s.rules) - 1; i >= 0; i-- {
		if strings.Contains(line, s.rules[i].Match) {
			rule = s.rules[i]
			break
		}
	}
	var res runner.Result
	if rule != nil && len(rule.Results) > 0 {
		idx := rule.calls
		if idx >= len(rule.Results) {
			idx = len(rule.Results) - 1
		}
		res = rule.Results[idx]
		rule.calls++
	}
	s.mu.Unlock()

	if rule != nil && rule.Do != nil {
		rule.Do(cmd)
	}
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1, Err: err}
	}
	return res
}

// Calls returns every command run so far.
func (s *Script) Calls() []runner.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.Command(nil), s.calls...)
}

// Lines returns every command line run so far, secrets included.
func (s *Script) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		lines = append(lines, c.Line())
	}
	return lines
}

// Ran reports whether any command line contained match.
func (s *Script) Ran(match string) bool {
	return s.Index(match) >= 0
}

// Index returns the position of the first command containing match, or -1.
func (s *Script) Index(match string) int {
	for i, l := range s.Lines() {
		if strings.Contains(l, match) {
			return i
		}
	}
	return -1
}

// Count returns how many commands contained match.
func (s *Script) Count(match string) int {
	n := 0
	for _, l := range s.Lines() {
		if strings.Contains(l, match) {
			n++
		}
	}
	return n
}
