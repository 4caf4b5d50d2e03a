// File: internal/runner/scenario.go
package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LifecycleFile is the scenario directory file holding suite-wide hooks.
const LifecycleFile = "lifecycle.yaml"

// Scenario is one YAML test file: a module and its tests.
type Scenario struct {
	Module string         `yaml:"module"`
	Hooks  ScenarioHooks  `yaml:"hooks"`
	Tests  []ScenarioTest `yaml:"tests"`
}

// ScenarioHooks are step lists run around a module or, in the lifecycle
// file, around every module.
type ScenarioHooks struct {
	Begin      []Step `yaml:"begin"`
	Before     []Step `yaml:"before"`
	After      []Step `yaml:"after"`
	BeforeEach []Step `yaml:"beforeEach"`
	AfterEach  []Step `yaml:"afterEach"`
}

// ScenarioTest is a named list of steps.
type ScenarioTest struct {
	Name  string `yaml:"name"`
	Skip  bool   `yaml:"skip"`
	Only  bool   `yaml:"only"`
	Steps []Step `yaml:"steps"`
}

// Step is a single action or check. Exactly one action field is set; the
// inline options tune navigation and click actions.
type Step struct {
	Visit               string        `yaml:"visit,omitempty"`
	Click               string        `yaml:"click,omitempty"`
	FillIn              *FillInStep   `yaml:"fillIn,omitempty"`
	KeyPress            string        `yaml:"keyPress,omitempty"`
	Reload              bool          `yaml:"reload,omitempty"`
	WaitForPageRedirect bool          `yaml:"waitForPageRedirect,omitempty"`
	SubmitForm          bool          `yaml:"submitForm,omitempty"`
	Pause               time.Duration `yaml:"pause,omitempty"`
	Log                 string        `yaml:"log,omitempty"`
	ExecuteCommand      *CommandStep  `yaml:"executeCommand,omitempty"`
	RetryUntil          *RetryStep    `yaml:"retryUntil,omitempty"`
	Assert              *AssertStep   `yaml:"assert,omitempty"`

	StepOptions `yaml:",inline"`
}

// StepOptions mirror harness.ActionOptions.
type StepOptions struct {
	WaitForAjax       bool          `yaml:"waitForAjax,omitempty"`
	WaitForElements   []string      `yaml:"waitForElements,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	IsPerformanceTest bool          `yaml:"isPerformanceTest,omitempty"`
	ExpectPageLoad    *bool         `yaml:"expectPageLoad,omitempty"`
}

// FillInStep sets the value of every element matching Selector.
type FillInStep struct {
	Selector string `yaml:"selector"`
	Value    any    `yaml:"value"`
}

// CommandStep runs a shell command through the command endpoint and
// asserts on its outcome.
type CommandStep struct {
	Command string `yaml:"command"`
	Dir     string `yaml:"dir,omitempty"`
	// Timeout is in seconds.
	Timeout  float64 `yaml:"timeout,omitempty"`
	Detached bool    `yaml:"detached,omitempty"`
	// ExitCode is the expected exit code. Zero unless set.
	ExitCode       *int   `yaml:"exitCode,omitempty"`
	StdoutIncludes string `yaml:"stdoutIncludes,omitempty"`
	StderrIncludes string `yaml:"stderrIncludes,omitempty"`
}

// RetryStep polls Until without recording results, then asserts it once.
type RetryStep struct {
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
	Description string        `yaml:"description"`
	Until       AssertStep    `yaml:"until"`
}

// AssertStep is one assertion. DOM checks need DOM; page checks do not.
type AssertStep struct {
	DOM                string  `yaml:"dom,omitempty"`
	Exists             bool    `yaml:"exists,omitempty"`
	DoesNotExist       bool    `yaml:"doesNotExist,omitempty"`
	Count              *int    `yaml:"count,omitempty"`
	HasText            *string `yaml:"hasText,omitempty"`
	IncludesText       *string `yaml:"includesText,omitempty"`
	DoesNotIncludeText *string `yaml:"doesNotIncludeText,omitempty"`
	HasClass           string  `yaml:"hasClass,omitempty"`
	// Is is one of checked, notChecked, disabled, enabled, visible, notVisible.
	Is               string `yaml:"is,omitempty"`
	CurrentPage      string `yaml:"currentPage,omitempty"`
	NotCurrentPage   string `yaml:"notCurrentPage,omitempty"`
	DontTrim         bool   `yaml:"dontTrim,omitempty"`
	RemoveLineBreaks bool   `yaml:"removeLineBreaks,omitempty"`
	Message          string `yaml:"message,omitempty"`
}

func (s Step) actions() []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(s.Visit != "", "visit")
	add(s.Click != "", "click")
	add(s.FillIn != nil, "fillIn")
	add(s.KeyPress != "", "keyPress")
	add(s.Reload, "reload")
	add(s.WaitForPageRedirect, "waitForPageRedirect")
	add(s.SubmitForm, "submitForm")
	add(s.Pause > 0, "pause")
	add(s.Log != "", "log")
	add(s.ExecuteCommand != nil, "executeCommand")
	add(s.RetryUntil != nil, "retryUntil")
	add(s.Assert != nil, "assert")
	return names
}

func (s Step) validate() error {
	names := s.actions()
	if len(names) != 1 {
		return fmt.Errorf("expected exactly one action, found %d (%s)", len(names), strings.Join(names, ", "))
	}
	switch {
	case s.FillIn != nil && s.FillIn.Selector == "":
		return errors.New("fillIn requires a selector")
	case s.ExecuteCommand != nil && s.ExecuteCommand.Command == "":
		return errors.New("executeCommand requires a command")
	case s.Assert != nil:
		return s.Assert.validate()
	case s.RetryUntil != nil:
		if s.RetryUntil.Timeout <= 0 {
			return errors.New("retryUntil requires a positive timeout")
		}
		return s.RetryUntil.Until.validate()
	}
	return nil
}

func (a AssertStep) checks() int {
	n := 0
	for _, set := range []bool{
		a.Exists, a.DoesNotExist, a.Count != nil, a.HasText != nil, a.IncludesText != nil,
		a.DoesNotIncludeText != nil, a.HasClass != "", a.Is != "", a.CurrentPage != "", a.NotCurrentPage != "",
	} {
		if set {
			n++
		}
	}
	return n
}

func (a AssertStep) validate() error {
	if n := a.checks(); n != 1 {
		return fmt.Errorf("assert expects exactly one check, found %d", n)
	}
	pageCheck := a.CurrentPage != "" || a.NotCurrentPage != ""
	if !pageCheck && a.DOM == "" {
		return errors.New("assert requires a dom selector")
	}
	switch a.Is {
	case "", "checked", "notChecked", "disabled", "enabled", "visible", "notVisible":
		return nil
	default:
		return fmt.Errorf("unknown state %q", a.Is)
	}
}

var paramPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// expandParams replaces ${name} in every scalar of the document with the
// matching param. Unknown names are collected and reported together.
func expandParams(node *yaml.Node, params map[string]string) error {
	missing := map[string]struct{}{}
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
			n.Value = paramPattern.ReplaceAllStringFunc(n.Value, func(m string) string {
				name := paramPattern.FindStringSubmatch(m)[1]
				v, ok := params[name]
				if !ok {
					missing[name] = struct{}{}
				}
				return v
			})
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(node)

	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("undefined params: %s", strings.Join(names, ", "))
}

func decode(data []byte, params map[string]string, out any) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		return nil
	}
	if err := expandParams(&doc, params); err != nil {
		return err
	}
	return doc.Decode(out)
}

// ParseScenario decodes one scenario document.
func ParseScenario(data []byte, params map[string]string) (*Scenario, error) {
	var sc Scenario
	if err := decode(data, params, &sc); err != nil {
		return nil, err
	}
	if sc.Module == "" {
		return nil, errors.New("scenario has no module name")
	}
	if err := sc.Hooks.validate(); err != nil {
		return nil, err
	}
	for i, t := range sc.Tests {
		if t.Name == "" {
			return nil, fmt.Errorf("test %d has no name", i+1)
		}
		if err := validateSteps(t.Steps); err != nil {
			return nil, fmt.Errorf("test '%s': %w", t.Name, err)
		}
	}
	return &sc, nil
}

// ParseLifecycle decodes the suite-wide hook file.
func ParseLifecycle(data []byte, params map[string]string) (*ScenarioHooks, error) {
	var hooks ScenarioHooks
	if err := decode(data, params, &hooks); err != nil {
		return nil, err
	}
	if err := hooks.validate(); err != nil {
		return nil, err
	}
	return &hooks, nil
}

func (h ScenarioHooks) validate() error {
	for name, steps := range map[string][]Step{
		"begin": h.Begin, "before": h.Before, "after": h.After,
		"beforeEach": h.BeforeEach, "afterEach": h.AfterEach,
	} {
		if err := validateSteps(steps); err != nil {
			return fmt.Errorf("%s hook: %w", name, err)
		}
	}
	return nil
}

func validateSteps(steps []Step) error {
	for i, s := range steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func isScenarioFile(name string) bool {
	ext := path.Ext(name)
	return (ext == ".yaml" || ext == ".yml") && path.Base(name) != LifecycleFile
}

// LoadSuite reads every scenario under fsys, walking subdirectories in
// lexical order. A lifecycle.yaml at the root supplies suite-wide hooks;
// begin hooks in scenario files are ignored.
func LoadSuite(fsys fs.FS, params map[string]string) (*Suite, error) {
	suite := &Suite{}

	if data, err := fs.ReadFile(fsys, LifecycleFile); err == nil {
		hooks, err := ParseLifecycle(data, params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", LifecycleFile, err)
		}
		suite.Begin = stepsFunc(hooks.Begin)
		suite.Lifecycle = hooks.compile()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", LifecycleFile, err)
	}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isScenarioFile(p) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		sc, err := ParseScenario(data, params)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		sc.addTo(suite)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suite, nil
}

func (h ScenarioHooks) compile() Hooks {
	return Hooks{
		Before:     stepsFunc(h.Before),
		After:      stepsFunc(h.After),
		BeforeEach: stepsFunc(h.BeforeEach),
		AfterEach:  stepsFunc(h.AfterEach),
	}
}

func (sc *Scenario) addTo(suite *Suite) {
	m := suite.Module(sc.Module, sc.Hooks.compile())
	for _, t := range sc.Tests {
		test := m.Test(t.Name, stepsFunc(t.Steps))
		test.Skip = t.Skip
		test.Only = t.Only
	}
}
