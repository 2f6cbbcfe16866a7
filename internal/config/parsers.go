// Package config loads crankfeed settings from flags and config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first of candidates present in settings. Viper
// lowercases keys, so each candidate is also tried in lower case.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", fmt.Errorf("expected string, got %T", value)
	}
	return s, nil
}

// Blank strings count as unset for the scalar helpers below.
func blank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func trimmed(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func asInt(value interface{}) (int, error) {
	if blank(value) {
		return 0, nil
	}
	return cast.ToIntE(trimmed(value))
}

func asFloat64(value interface{}) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	return cast.ToFloat64E(trimmed(value))
}

func asBool(value interface{}) (bool, error) {
	if blank(value) {
		return false, nil
	}
	return cast.ToBoolE(trimmed(value))
}

// asDuration parses strings with time.ParseDuration. Bare numbers are
// seconds.
func asDuration(value interface{}) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// asStringMap reads a header-style map. Keys may not be empty.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}
	for k := range m {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
	}
	return m, nil
}

// asStringSlice accepts a list or a single string. A single string is one
// element, not split on whitespace.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	}
	out, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
	return out, nil
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []map[interface{}]interface{}:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	}
	items, err := cast.ToSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	return items, nil
}

// toStringKeyMap normalizes a nested section's keys to trimmed lower case.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	result := make(map[string]interface{}, len(m))
	for key, val := range m {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}
