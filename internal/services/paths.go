package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dams-sync/internal/models"
	"dams-sync/pkg/templating"
)

// Placeholder names available to folder and file templates
const (
	TagDomainName             = "domain_name"
	TagAncillaryVarName       = "ancillary_var_name"
	TagDestinationVarName     = "destination_var_name"
	TagAncillaryDatetime      = "ancillary_datetime"
	TagAncillarySubPathTime   = "ancillary_sub_path_time"
	TagDestinationDatetime    = "destination_datetime"
	TagDestinationSubPathTime = "destination_sub_path_time"
)

// PathSet maps a variable name to one path per timestep, aligned with the
// window it was resolved for. Disabled variables have no entry.
type PathSet map[string][]string

// Path returns the path of variable at step index i
func (p PathSet) Path(variable string, i int) (string, bool) {
	paths, ok := p[variable]
	if !ok || i < 0 || i >= len(paths) {
		return "", false
	}
	return paths[i], true
}

// ResolvePaths expands folderTmpl and fileTmpl for every enabled variable and
// every timestep of window. templates holds the strftime layouts of the
// time placeholders and may also carry literal values.
func ResolvePaths(folderTmpl, fileTmpl string, templates map[string]string, domain string,
	variables []models.VariableSpec, window []time.Time) (PathSet, error) {

	paths := make(PathSet, len(variables))

	for _, variable := range variables {
		if !variable.Enabled() {
			continue
		}

		list := make([]string, 0, len(window))
		for _, step := range window {
			values := fillingValues(templates)
			values[TagDomainName] = domain
			values[TagAncillaryVarName] = variable.Name
			values[TagDestinationVarName] = variable.Name
			values[TagAncillaryDatetime] = step
			values[TagAncillarySubPathTime] = step
			values[TagDestinationDatetime] = step
			values[TagDestinationSubPathTime] = step

			folder, err := templating.Fill(folderTmpl, templates, values)
			if err != nil {
				return nil, fmt.Errorf("resolve folder for %s: %w", variable.Name, err)
			}
			file, err := templating.Fill(fileTmpl, templates, values)
			if err != nil {
				return nil, fmt.Errorf("resolve file for %s: %w", variable.Name, err)
			}
			list = append(list, filepath.Join(folder, file))
		}
		paths[variable.Name] = list
	}

	return paths, nil
}

// fillingValues seeds the context with the dictionary entries that are not
// time layouts, so that static placeholders resolve to their literal value.
func fillingValues(templates map[string]string) map[string]interface{} {
	values := make(map[string]interface{}, len(templates)+7)
	for key, value := range templates {
		if isTimeTag(key) {
			continue
		}
		values[key] = value
	}
	return values
}

func isTimeTag(key string) bool {
	switch key {
	case TagAncillaryDatetime, TagAncillarySubPathTime, TagDestinationDatetime, TagDestinationSubPathTime:
		return true
	}
	return false
}

// StaticRoot returns the directory every path of folderTmpl lives under.
// The domain name and the literal dictionary entries are substituted first,
// then the text before the first remaining placeholder is cut back to a
// whole directory.
func StaticRoot(folderTmpl string, templates map[string]string, domain string) string {
	known := make(map[string]string, len(templates)+1)
	for key, value := range templates {
		if !isTimeTag(key) {
			known[key] = value
		}
	}
	known[TagDomainName] = domain

	resolved := templating.FillKnown(folderTmpl, known)
	prefix := templating.StaticPrefix(resolved)
	if prefix == resolved {
		return filepath.Clean(resolved)
	}
	return filepath.Clean(filepath.Dir(prefix + "x"))
}

// within reports whether path is root or lies below it
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
