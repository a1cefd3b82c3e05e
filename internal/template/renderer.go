// Package template substitutes {{name}} placeholders in stored templates.
// Rendering is pure: no I/O, no randomness, same inputs give same output.
package template

import (
	"regexp"

	"mailqueue/internal/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Rendered is the outcome of applying variables to a template.
type Rendered struct {
	Subject string
	Body    string
}

// Render replaces every {{key}} in the template's subject and body with
// variables[key]. Unresolved placeholders become the empty string rather
// than failing the entry; callers are expected to report them (see Unresolved).
func Render(t *models.Template, variables map[string]string) Rendered {
	return Rendered{
		Subject: substitute(t.Subject, variables),
		Body:    substitute(t.Body, variables),
	}
}

// Unresolved lists placeholder names present in the template but absent from
// variables, in order of first appearance.
func Unresolved(t *models.Template, variables map[string]string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, text := range []string{t.Subject, t.Body} {
		for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if _, ok := variables[name]; ok || seen[name] {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}

func substitute(text string, variables map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return variables[name]
	})
}
