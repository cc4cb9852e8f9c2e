package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"dams-sync/internal/models"
)

// anchorLayouts are tried before natural language parsing
var anchorLayouts = []string{
	"2006-01-02 15:04",
	models.TabularTimeLayout,
	time.RFC3339,
	"2006-01-02",
}

// parseAnchor turns the --time value into a run anchor. An empty value
// selects now; otherwise fixed layouts are tried first, then phrases such as
// "yesterday 6am" or "2 hours ago" relative to now. Times are UTC.
func parseAnchor(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now.UTC(), nil
	}

	for _, layout := range anchorLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(value, now.UTC())
	if err != nil {
		return time.Time{}, &models.ConfigurationError{Field: "time", Message: fmt.Sprintf("cannot parse %q: %v", value, err)}
	}
	if result == nil {
		return time.Time{}, &models.ConfigurationError{Field: "time", Message: fmt.Sprintf("cannot parse %q", value)}
	}
	return result.Time.UTC(), nil
}
