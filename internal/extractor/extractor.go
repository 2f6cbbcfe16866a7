// Package extractor pulls values out of action responses by JSON path or
// regular expression.
package extractor

import (
	"fmt"
	"regexp"

	"github.com/torosent/crankfeed/internal/config"
)

// Logger receives warnings for extractions that found nothing.
// *log.Logger from charmbracelet/log satisfies it.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// Rule extracts one value into Variable.
type Rule struct {
	JSONPath string
	Regex    string
	Variable string
	// OnError also applies the rule to failed responses (4xx/5xx).
	OnError bool

	re *regexp.Regexp
}

// Set is an ordered list of compiled rules.
type Set struct {
	rules  []Rule
	logger Logger
}

// Compile validates cfgs and compiles their regular expressions once.
func Compile(cfgs []config.Extractor, logger Logger) (*Set, error) {
	s := &Set{logger: logger, rules: make([]Rule, 0, len(cfgs))}
	for i, c := range cfgs {
		r := Rule{JSONPath: c.JSONPath, Regex: c.Regex, Variable: c.Variable, OnError: c.OnError}
		switch {
		case r.Variable == "":
			return nil, fmt.Errorf("extractor[%d]: var is required", i)
		case r.JSONPath != "" && r.Regex != "":
			return nil, fmt.Errorf("extractor[%d]: set either jsonpath or regex, not both", i)
		case r.Regex != "":
			re, err := regexp.Compile(r.Regex)
			if err != nil {
				return nil, fmt.Errorf("extractor[%d]: invalid regex %q: %w", i, r.Regex, err)
			}
			r.re = re
		case r.JSONPath == "":
			return nil, fmt.Errorf("extractor[%d]: jsonpath or regex is required", i)
		}
		s.rules = append(s.rules, r)
	}
	return s, nil
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Apply runs every applicable rule against body. When failed is true only
// rules marked OnError run. Rules that find nothing yield an empty string.
func (s *Set) Apply(body []byte, failed bool) map[string]string {
	if s.Len() == 0 {
		return nil
	}
	out := make(map[string]string, len(s.rules))
	for _, r := range s.rules {
		if failed && !r.OnError {
			continue
		}
		var value string
		if r.re != nil {
			value = findRegex(body, r.re, s.logger)
		} else {
			value = findJSONPath(body, r.JSONPath, s.logger)
		}
		out[r.Variable] = value
	}
	return out
}
