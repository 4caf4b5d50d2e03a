// File: internal/runner/plan_test.go
package runner

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		filter, module, test string
		want                 bool
	}{
		{"", "Acceptance | Login", "logs in", true},
		{"login", "Acceptance | Login", "logs in", true},
		{"LOGS IN", "Acceptance | Login", "logs in", true},
		{"login logs", "Acceptance | Login", "logs in", true},
		{"logout", "Acceptance | Login", "logs in", false},
		{"!login", "Acceptance | Login", "logs in", false},
		{"!logout", "Acceptance | Login", "logs in", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.filter), func(t *testing.T) {
			assert.Equal(t, tt.want, MatchFilter(tt.filter, tt.module, tt.test))
		})
	}
}

func TestGenerateSeed(t *testing.T) {
	seed := GenerateSeed()
	assert.Len(t, seed, SeedLength)
	assert.Regexp(t, `^[0-9a-z]+$`, seed)
}

func names(p []plannedModule) []string {
	var out []string
	for _, pm := range p {
		for _, t := range pm.tests {
			out = append(out, pm.Name+"/"+t.Name)
		}
	}
	return out
}

func sampleSuite() *Suite {
	s := &Suite{}
	for _, mod := range []string{"alpha", "beta", "gamma"} {
		m := s.Module(mod, Hooks{})
		for i := 0; i < 4; i++ {
			m.Test(fmt.Sprintf("test %d", i), nil)
		}
	}
	return s
}

func TestPlan_Filter(t *testing.T) {
	got := names(plan(sampleSuite(), "beta test 1", ""))
	assert.Equal(t, []string{"beta/test 1"}, got)

	got = names(plan(sampleSuite(), "!beta", ""))
	assert.Len(t, got, 8)
	assert.NotContains(t, got, "beta/test 0")
}

func TestPlan_Only(t *testing.T) {
	s := sampleSuite()
	s.Modules[1].Tests[2].Only = true
	s.Modules[2].Tests[0].Only = true

	got := names(plan(s, "", ""))
	assert.Equal(t, []string{"beta/test 2", "gamma/test 0"}, got)

	got = names(plan(s, "alpha", ""))
	assert.Len(t, got, 4, "only marks outside the filter do not apply")
}

func TestPlan_SeedIsDeterministic(t *testing.T) {
	first := names(plan(sampleSuite(), "", "abc123"))
	second := names(plan(sampleSuite(), "", "abc123"))
	assert.Equal(t, first, second)
	assert.NotEqual(t, names(plan(sampleSuite(), "", "")), names(plan(sampleSuite(), "", "zzzzzzzzzz")),
		"a seed reorders the suite")
}

func TestPlan_ShuffleKeepsModulesContiguous(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.StringMatching(`[0-9a-z]{10}`).Draw(t, "seed")
		p := plan(sampleSuite(), "", seed)
		require.Len(t, p, 3)

		var mods []string
		for _, pm := range p {
			mods = append(mods, pm.Name)
			got := make([]string, 0, len(pm.tests))
			for _, tst := range pm.tests {
				got = append(got, tst.Name)
			}
			sort.Strings(got)
			assert.Equal(t, []string{"test 0", "test 1", "test 2", "test 3"}, got)
		}
		sort.Strings(mods)
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, mods)
	})
}
