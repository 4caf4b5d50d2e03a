// File: internal/runner/junit.go
package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/afterburner/internal/config"
)

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// JUnit builds a JUnit XML document with one testsuite per browser and module.
func JUnit(sums []*Summary) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "afterburner")

	var tests, failures, skipped int
	var total time.Duration
	for _, s := range sums {
		total += s.Runtime
		var suite *etree.Element
		var current string
		var sTests, sFailures, sSkipped int
		var sTime time.Duration
		flush := func() {
			if suite == nil {
				return
			}
			suite.CreateAttr("tests", strconv.Itoa(sTests))
			suite.CreateAttr("failures", strconv.Itoa(sFailures))
			suite.CreateAttr("skipped", strconv.Itoa(sSkipped))
			suite.CreateAttr("time", seconds(sTime))
		}

		for _, t := range s.Tests {
			if suite == nil || t.Module != current {
				flush()
				current = t.Module
				sTests, sFailures, sSkipped, sTime = 0, 0, 0, 0
				suite = root.CreateElement("testsuite")
				suite.CreateAttr("name", fmt.Sprintf("%s: %s", s.Browser, t.Module))
				suite.CreateAttr("timestamp", s.StartedAt.UTC().Format(time.RFC3339))
				props := suite.CreateElement("properties")
				for _, kv := range [][2]string{{"seed", s.Seed}, {"host", s.Host}, {"browser", s.Browser}} {
					p := props.CreateElement("property")
					p.CreateAttr("name", kv[0])
					p.CreateAttr("value", kv[1])
				}
			}

			tests++
			sTests++
			sTime += t.Runtime
			tc := suite.CreateElement("testcase")
			tc.CreateAttr("classname", t.Module)
			tc.CreateAttr("name", t.Name)
			tc.CreateAttr("time", seconds(t.Runtime))

			switch {
			case t.Skipped:
				skipped++
				sSkipped++
				tc.CreateElement("skipped")
			case t.Failed > 0:
				failures++
				sFailures++
				var lines []string
				for _, r := range t.Results {
					if !r.Passed {
						lines = append(lines, r.Text())
					}
				}
				f := tc.CreateElement("failure")
				f.CreateAttr("message", t.FirstFailure())
				f.CreateAttr("type", "AssertionError")
				f.SetText(strings.Join(lines, "\n"))
			}
		}
		flush()
	}

	root.CreateAttr("tests", strconv.Itoa(tests))
	root.CreateAttr("failures", strconv.Itoa(failures))
	root.CreateAttr("skipped", strconv.Itoa(skipped))
	root.CreateAttr("time", seconds(total))
	doc.Indent(2)
	return doc
}

// WriteJUnit writes the report for sums to w.
func WriteJUnit(w io.Writer, sums []*Summary) error {
	_, err := JUnit(sums).WriteTo(w)
	return err
}

// WriteJUnitFile writes the report to path, creating parent directories.
func WriteJUnitFile(path string, sums []*Summary) error {
	path = config.ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := JUnit(sums).WriteToFile(path); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return nil
}
