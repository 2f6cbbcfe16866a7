// Package placeholders substitutes record fields into request templates.
package placeholders

import "regexp"

// pattern matches {{key}} and {{key|default}}.
var pattern = regexp.MustCompile(`\{\{([^}|]+)(?:(\|)([^}]*))?\}\}`)

// Apply replaces every {{field}} in template with the record's value for
// field. {{field|fallback}} uses fallback when the record lacks the field.
// Placeholders with neither a value nor a fallback are left unchanged.
func Apply(template string, record map[string]string) string {
	return pattern.ReplaceAllStringFunc(template, func(match string) string {
		parts := pattern.FindStringSubmatch(match)
		if val, ok := record[parts[1]]; ok {
			return val
		}
		if parts[2] == "|" {
			return parts[3]
		}
		return match
	})
}
