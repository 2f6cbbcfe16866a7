package extractor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/torosent/crankfeed/internal/config"
)

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func mustCompile(t *testing.T, logger Logger, cfgs ...config.Extractor) *Set {
	t.Helper()
	s, err := Compile(cfgs, logger)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return s
}

func TestApplyJSONPath(t *testing.T) {
	body := []byte(`{"id": 123, "user": {"profile": {"name": "Alice"}}, "items": [{"id": 1}, {"id": 2}]}`)
	tests := []struct {
		path string
		want string
	}{
		{"id", "123"},
		{"$.id", "123"},
		{"user.profile.name", "Alice"},
		{"items.0.id", "1"},
		{"items.#", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s := mustCompile(t, nil, config.Extractor{JSONPath: tt.path, Variable: "v"})
			if got := s.Apply(body, false)["v"]; got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestApplyBareDollarReturnsDocument(t *testing.T) {
	body := []byte(`{"a":1}`)
	s := mustCompile(t, nil, config.Extractor{JSONPath: "$", Variable: "doc"})
	if got := s.Apply(body, false)["doc"]; got != `{"a":1}` {
		t.Errorf("got %q", got)
	}
}

func TestApplyRegex(t *testing.T) {
	body := []byte(`Location: /orders/8812 created at 10:42`)
	s := mustCompile(t, nil,
		config.Extractor{Regex: `/orders/(\d+)`, Variable: "order"},
		config.Extractor{Regex: `\d{2}:\d{2}`, Variable: "time"},
	)
	got := s.Apply(body, false)
	if got["order"] != "8812" {
		t.Errorf("capture group = %q, want 8812", got["order"])
	}
	if got["time"] != "10:42" {
		t.Errorf("full match = %q, want 10:42", got["time"])
	}
}

func TestApplyMissingValuesWarn(t *testing.T) {
	logger := &recordingLogger{}
	s := mustCompile(t, logger,
		config.Extractor{JSONPath: "missing.field", Variable: "a"},
		config.Extractor{Regex: `token=(\w+)`, Variable: "b"},
	)
	got := s.Apply([]byte(`{"id":1}`), false)
	if v, ok := got["a"]; !ok || v != "" {
		t.Errorf("missing jsonpath should yield empty value, got %q (present=%v)", v, ok)
	}
	if v, ok := got["b"]; !ok || v != "" {
		t.Errorf("unmatched regex should yield empty value, got %q (present=%v)", v, ok)
	}
	if len(logger.warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", logger.warnings)
	}
	if !strings.Contains(logger.warnings[0], "missing.field") {
		t.Errorf("warning should name the path: %q", logger.warnings[0])
	}
}

func TestApplyFailedResponsesOnlyRunOnErrorRules(t *testing.T) {
	body := []byte(`{"error":"quota","request_id":"r-1"}`)
	s := mustCompile(t, nil,
		config.Extractor{JSONPath: "request_id", Variable: "req", OnError: true},
		config.Extractor{JSONPath: "error", Variable: "err"},
	)

	got := s.Apply(body, true)
	if got["req"] != "r-1" {
		t.Errorf("on_error rule should run, got %v", got)
	}
	if _, ok := got["err"]; ok {
		t.Errorf("rule without on_error should be skipped, got %v", got)
	}

	got = s.Apply(body, false)
	if got["req"] != "r-1" || got["err"] != "quota" {
		t.Errorf("all rules should run on success, got %v", got)
	}
}

func TestApplyEmptySet(t *testing.T) {
	var nilSet *Set
	if got := nilSet.Apply([]byte(`{}`), false); got != nil {
		t.Errorf("nil set should return nil, got %v", got)
	}
	s := mustCompile(t, nil)
	if s.Len() != 0 || s.Apply(nil, false) != nil {
		t.Error("empty set should apply nothing")
	}
}

func TestCompileRejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Extractor
	}{
		{"no variable", config.Extractor{JSONPath: "id"}},
		{"no expression", config.Extractor{Variable: "v"}},
		{"both expressions", config.Extractor{JSONPath: "id", Regex: "x", Variable: "v"}},
		{"invalid regex", config.Extractor{Regex: "([", Variable: "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile([]config.Extractor{tt.cfg}, nil); err == nil {
				t.Fatalf("expected error for %+v", tt.cfg)
			}
		})
	}
}
