// File: internal/runner/plan.go
package runner

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
)

const seedAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// SeedLength is the length of generated seeds.
const SeedLength = 10

// GenerateSeed returns a random lowercase alphanumeric seed.
func GenerateSeed() string {
	b := make([]byte, SeedLength)
	for i := range b {
		b[i] = seedAlphabet[rand.IntN(len(seedAlphabet))]
	}
	return string(b)
}

// MatchFilter reports whether the test "<module> <test>" passes filter. The
// match is a case-insensitive substring; a leading "!" inverts it.
func MatchFilter(filter, module, test string) bool {
	if filter == "" {
		return true
	}
	negate := strings.HasPrefix(filter, "!")
	needle := strings.ToLower(strings.TrimPrefix(filter, "!"))
	hit := strings.Contains(strings.ToLower(module+" "+test), needle)
	return hit != negate
}

// plannedModule is a module with the tests that will be reported, in order.
type plannedModule struct {
	*Module
	tests []*Test
}

// plan filters and orders the suite. Modules with nothing left are dropped.
// When any surviving test is marked Only, every other test is removed.
func plan(s *Suite, filter, seed string) []plannedModule {
	var out []plannedModule
	only := false
	for _, m := range s.Modules {
		pm := plannedModule{Module: m}
		for _, t := range m.Tests {
			if MatchFilter(filter, m.Name, t.Name) {
				pm.tests = append(pm.tests, t)
				only = only || t.Only
			}
		}
		if len(pm.tests) > 0 {
			out = append(out, pm)
		}
	}

	if only {
		kept := out[:0]
		for _, pm := range out {
			var tests []*Test
			for _, t := range pm.tests {
				if t.Only {
					tests = append(tests, t)
				}
			}
			if len(tests) > 0 {
				pm.tests = tests
				kept = append(kept, pm)
			}
		}
		out = kept
	}

	if seed != "" {
		r := seededRand(seed)
		r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		for _, pm := range out {
			r.Shuffle(len(pm.tests), func(i, j int) { pm.tests[i], pm.tests[j] = pm.tests[j], pm.tests[i] })
		}
	}
	return out
}

func seededRand(seed string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum64()
	return rand.New(rand.NewPCG(sum, sum^0x9e3779b97f4a7c15))
}
