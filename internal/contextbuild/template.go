// Package contextbuild assembles token-budgeted generation prompts for one
// batch of source records.
package contextbuild

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Template insertion points. All four must be present in a prompt template.
const (
	PlaceholderSummary        = "{{current_member_summary}}"
	PlaceholderTypeContext    = "{{source_type_context}}"
	PlaceholderSubtypeContext = "{{source_subtype_context}}"
	PlaceholderNewData        = "{{new_data_to_process}}"
)

// ErrTemplate indicates a malformed prompt template. It is a configuration
// defect and fatal to the whole run.
var ErrTemplate = eris.New("contextbuild: malformed prompt template")

var requiredPlaceholders = []string{
	PlaceholderSummary,
	PlaceholderTypeContext,
	PlaceholderSubtypeContext,
	PlaceholderNewData,
}

// Template is a validated prompt template with the four insertion points.
type Template struct {
	text string
}

// ParseTemplate validates raw template text. A missing insertion point
// returns ErrTemplate.
func ParseTemplate(text string) (*Template, error) {
	for _, p := range requiredPlaceholders {
		if !strings.Contains(text, p) {
			return nil, eris.Wrapf(ErrTemplate, "missing insertion point %s", p)
		}
	}
	return &Template{text: text}, nil
}

// LoadTemplate reads and validates a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "contextbuild: read template %s", path)
	}
	return ParseTemplate(string(data))
}

// Render substitutes all four insertion points.
func (t *Template) Render(summary, typeContext, subtypeContext, newData string) string {
	r := strings.NewReplacer(
		PlaceholderSummary, summary,
		PlaceholderTypeContext, typeContext,
		PlaceholderSubtypeContext, subtypeContext,
		PlaceholderNewData, newData,
	)
	return r.Replace(t.text)
}
