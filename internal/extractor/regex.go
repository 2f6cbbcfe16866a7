package extractor

import (
	"regexp"
)

// findRegex returns the first capture group, or the whole match when the
// pattern has no groups.
func findRegex(body []byte, re *regexp.Regexp, logger Logger) string {
	match := re.FindSubmatch(body)
	if match == nil {
		if logger != nil {
			logger.Warnf("regex %q did not match response", re.String())
		}
		return ""
	}
	if len(match) > 1 {
		return string(match[1])
	}
	return string(match[0])
}
