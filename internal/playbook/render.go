package playbook

import (
	"fmt"
	"strings"
)

// Render substitutes each {{name}} placeholder in the body with its resolved
// value's string form. Placeholders without a resolved value are left
// verbatim: a playbook may reference the runtime's own conventions, so an
// unresolved placeholder is not an error.
func Render(body string, params map[string]any) string {
	rendered := body
	for name, value := range params {
		rendered = strings.ReplaceAll(rendered, "{{"+name+"}}", fmt.Sprint(value))
	}
	return rendered
}
