package nih

import (
	"fmt"
	"strings"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

// TextKey is the caller-facing free-text criteria key.
const TextKey = "text"

const (
	advancedTextSearchKey = "advanced_text_search"
	textSearchOperator    = "and"
	textSearchFields      = "projecttitle,terms,abstracttext"

	SortProjectStartDate = "project_start_date"
	SortDescending       = "desc"
)

// NormalizeCriteria returns a copy of c in which the free-text key has been
// replaced by RePORTER's advanced_text_search clause. c is not modified.
// A blank text value is dropped without adding a clause.
func NormalizeCriteria(c model.Criteria) model.Criteria {
	out := make(model.Criteria, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	raw, ok := out[TextKey]
	if !ok {
		return out
	}
	delete(out, TextKey)

	text := strings.TrimSpace(textValue(raw))
	if text == "" {
		return out
	}
	out[advancedTextSearchKey] = map[string]any{
		"operator":     textSearchOperator,
		"search_field": textSearchFields,
		"search_text":  text,
	}
	return out
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
