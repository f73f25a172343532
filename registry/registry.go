// Package registry holds the catalog of test programs and the helpers that
// expand, filter and pair them.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jifbench/jifbench/model"
)

// ErrDuplicateTest is returned when two tests share an identity key.
var ErrDuplicateTest = errors.New("duplicate test")

// Transform rewrites the invocation of a test for the snapshot driver.
type Transform func(string) string

// Identity leaves the invocation unchanged.
func Identity(cmd string) string {
	return cmd
}

// ReplaceRunner swaps the runner entry point of an invocation.
func ReplaceRunner(old, new string) Transform {
	return func(cmd string) string {
		return strings.ReplaceAll(cmd, old, new)
	}
}

// AppendFlag adds a flag to the end of an invocation.
func AppendFlag(flag string) Transform {
	return func(cmd string) string {
		return cmd + " " + flag
	}
}

// StopCount returns the number of checkpoints a program of the given language
// raises before it reaches a state worth snapshotting.
func StopCount(lang string) int {
	if lang == "java" {
		return 2
	}
	return 1
}

// NewTest creates a single test. A nil transform is the identity.
func NewTest(lang, name, command, args, argName string, transform Transform) model.TestCase {
	if transform == nil {
		transform = Identity
	}
	return model.TestCase{
		Lang:       lang,
		Name:       name,
		ArgName:    argName,
		RawCommand: command,
		Command:    transform(command),
		Args:       args,
		StopCount:  StopCount(lang),
	}
}

// Template expands an argument map (arg name -> args) into one test per
// entry. Tests are returned in arg name order.
func Template(lang, name, command string, argMap map[string]string, transform Transform) []model.TestCase {
	names := make([]string, 0, len(argMap))
	for n := range argMap {
		names = append(names, n)
	}
	sort.Strings(names)

	tests := make([]model.TestCase, 0, len(names))
	for _, argName := range names {
		tests = append(tests, NewTest(lang, name, command, argMap[argName], argName, transform))
	}
	return tests
}

// Registry is an ordered set of tests with unique identity keys.
type Registry struct {
	tests []model.TestCase
}

// New builds a registry, rejecting duplicate identity keys.
func New(tests ...model.TestCase) (*Registry, error) {
	seen := make(map[model.Key]struct{}, len(tests))
	for _, t := range tests {
		if _, ok := seen[t.Key()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTest, t.ID())
		}
		seen[t.Key()] = struct{}{}
	}
	return &Registry{tests: append([]model.TestCase(nil), tests...)}, nil
}

// Tests returns a copy of the tests in catalog order.
func (r *Registry) Tests() []model.TestCase {
	return append([]model.TestCase(nil), r.tests...)
}

// Filter positively selects tests by regular expressions. A nil expression
// matches everything; tests without an arg variant always pass ArgName.
type Filter struct {
	Name    *regexp.Regexp
	Lang    *regexp.Regexp
	ArgName *regexp.Regexp
}

// Match reports whether the test passes every filter.
func (f Filter) Match(t model.TestCase) bool {
	if f.Name != nil && !f.Name.MatchString(t.Name) {
		return false
	}
	if f.Lang != nil && !f.Lang.MatchString(t.Lang) {
		return false
	}
	if f.ArgName != nil && t.ArgName != "" && !f.ArgName.MatchString(t.ArgName) {
		return false
	}
	return true
}

// Select returns the tests matching the filter, in catalog order.
func (r *Registry) Select(f Filter) []model.TestCase {
	var out []model.TestCase
	for _, t := range r.tests {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// CoRunners returns the tests restored concurrently with t to model
// contention: same language, a different program, and not the same non-empty
// arg variant.
func CoRunners(t model.TestCase, tests []model.TestCase) []model.TestCase {
	var out []model.TestCase
	for _, other := range tests {
		if other.Name == t.Name || other.Lang != t.Lang {
			continue
		}
		if t.ArgName != "" && other.ArgName != "" && t.ArgName == other.ArgName {
			continue
		}
		out = append(out, other)
	}
	return out
}
