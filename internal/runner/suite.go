// File: internal/runner/suite.go
package runner

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/assert"
	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/shelly"
)

// T is handed to every test body and hook. Assertions pushed through
// Assert count toward the test being run.
type T struct {
	*harness.Harness

	Assert *assert.Assert
	Shell  shelly.Runner
	Params map[string]string
	Logger *zap.Logger

	Module string
	Name   string
}

// Param returns the value of a key=value CLI parameter, or "".
func (t *T) Param(key string) string { return t.Params[key] }

// Func is the body of a test or a hook.
type Func func(ctx context.Context, t *T) error

// Hooks run around modules and tests. Any of them may be nil.
type Hooks struct {
	// Before runs once before the first test of a module.
	Before Func
	// After runs once after the last test of a module.
	After      Func
	BeforeEach Func
	AfterEach  Func
}

// Test is a single named test.
type Test struct {
	Name string
	Fn   Func
	Skip bool
	Only bool
}

// Module groups tests sharing hooks.
type Module struct {
	Name  string
	Hooks Hooks
	Tests []*Test
}

// Test adds a test to the module.
func (m *Module) Test(name string, fn Func) *Test {
	t := &Test{Name: name, Fn: fn}
	m.Tests = append(m.Tests, t)
	return t
}

// Only adds a test and restricts the run to tests added with Only.
func (m *Module) Only(name string, fn Func) *Test {
	t := m.Test(name, fn)
	t.Only = true
	return t
}

// Skip adds a test that is reported but never run.
func (m *Module) Skip(name string, fn Func) *Test {
	t := m.Test(name, fn)
	t.Skip = true
	return t
}

// Suite is everything one run executes.
type Suite struct {
	// Begin runs once before any module.
	Begin Func
	// Lifecycle hooks apply to every module and run before the module's own
	// Before/BeforeEach and after its own AfterEach/After.
	Lifecycle Hooks
	Modules   []*Module
}

// Module adds a module to the suite.
func (s *Suite) Module(name string, hooks Hooks) *Module {
	m := &Module{Name: name, Hooks: hooks}
	s.Modules = append(s.Modules, m)
	return m
}

// Merge appends the modules of other. Lifecycle hooks of other are used
// only where s has none.
func (s *Suite) Merge(other *Suite) {
	if other == nil {
		return
	}
	if s.Begin == nil {
		s.Begin = other.Begin
	}
	mergeHook(&s.Lifecycle.Before, other.Lifecycle.Before)
	mergeHook(&s.Lifecycle.After, other.Lifecycle.After)
	mergeHook(&s.Lifecycle.BeforeEach, other.Lifecycle.BeforeEach)
	mergeHook(&s.Lifecycle.AfterEach, other.Lifecycle.AfterEach)
	s.Modules = append(s.Modules, other.Modules...)
}

func mergeHook(dst *Func, src Func) {
	if *dst == nil {
		*dst = src
	}
}
