package dispatch

import (
	"regexp"
	"strings"

	"github.com/msanchis/physionotify/internal/db"
)

// Stored templates use handlebars-style placeholders: {{professional.name}},
// {{config.signature}}. Rendering substitutes each placeholder from a nested
// map context; anything unresolvable renders as the empty string rather than
// an error, so a sloppy template degrades instead of aborting a batch.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes placeholders in tmpl from data. Pure and safe for
// concurrent use.
func Render(tmpl string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		return lookup(data, path)
	})
}

// lookup walks a dotted path through nested string-keyed maps.
func lookup(data map[string]any, path string) string {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return ""
	}
}

// compiledTemplate pairs a stored template's subject and body for rendering.
type compiledTemplate struct {
	name    string
	subject string
	body    string
}

func compileTemplate(t *db.Template) compiledTemplate {
	return compiledTemplate{name: t.Name, subject: t.Subject, body: t.Body}
}

func (t compiledTemplate) render(data map[string]any) (subject, body string) {
	return Render(t.subject, data), Render(t.body, data)
}
