// Package templating expands "{name}" placeholders in folder and file name
// templates. Time values are rendered through strftime layouts taken from a
// template dictionary, every other value through fmt.
package templating

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// UnresolvedError reports placeholders with no value in the filling context.
type UnresolvedError struct {
	Template string
	Names    []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("template %q has unresolved placeholders: %s", e.Template, strings.Join(e.Names, ", "))
}

// Fill substitutes every placeholder of tmpl. formats maps placeholder names
// to strftime layouts and is consulted for time.Time values; values holds the
// per-call filling context.
func Fill(tmpl string, formats map[string]string, values map[string]interface{}) (string, error) {
	var (
		firstErr   error
		unresolved []string
	)

	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]

		value, ok := values[name]
		if !ok || value == nil {
			unresolved = append(unresolved, name)
			return match
		}

		rendered, err := render(name, value, formats)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return rendered
	})

	if firstErr != nil {
		return "", firstErr
	}
	if len(unresolved) > 0 {
		return "", &UnresolvedError{Template: tmpl, Names: unresolved}
	}
	return out, nil
}

func render(name string, value interface{}, formats map[string]string) (string, error) {
	switch v := value.(type) {
	case time.Time:
		layout, ok := formats[name]
		if !ok || layout == "" {
			return "", fmt.Errorf("no time layout configured for placeholder %q", name)
		}
		s, err := strftime.Format(layout, v)
		if err != nil {
			return "", fmt.Errorf("format placeholder %q with %q: %w", name, layout, err)
		}
		return s, nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// StaticPrefix returns the portion of tmpl that precedes the first
// placeholder.
func StaticPrefix(tmpl string) string {
	loc := placeholder.FindStringIndex(tmpl)
	if loc == nil {
		return tmpl
	}
	return tmpl[:loc[0]]
}

// FillKnown substitutes the placeholders that have an entry in values and
// leaves every other placeholder in place.
func FillKnown(tmpl string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if value, ok := values[match[1:len(match)-1]]; ok {
			return value
		}
		return match
	})
}
