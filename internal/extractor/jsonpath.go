package extractor

import (
	"github.com/tidwall/gjson"
)

// findJSONPath accepts gjson paths with an optional "$." prefix; a bare "$"
// selects the whole document.
func findJSONPath(body []byte, path string, logger Logger) string {
	switch {
	case path == "$":
		path = "@this"
	case len(path) > 1 && path[0] == '$' && path[1] == '.':
		path = path[2:]
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		if logger != nil {
			logger.Warnf("jsonpath %q not found in response", path)
		}
		return ""
	}
	return result.String()
}
