// Package tmpl personalizes subject and body templates with per-recipient
// variables.
//
// Placeholders have the form {{identifier}} where identifier is one or more
// word characters. Matching and variable lookup are case-sensitive:
// {{Name}} is not filled by a "name" variable. A placeholder without a
// matching variable is left in the output as written, so missing data shows
// up in the sent message instead of silently disappearing.
package tmpl

import (
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes every placeholder in template with its value from vars.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[2 : len(m)-2]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// Placeholders returns the distinct identifiers used in template in order of
// first appearance.
func Placeholders(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	return keys
}

// Missing returns the placeholders of template that vars cannot fill.
func Missing(template string, vars map[string]string) []string {
	var missing []string
	for _, key := range Placeholders(template) {
		if _, ok := vars[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
