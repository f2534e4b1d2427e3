package contextbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTemplate = `You maintain a consolidated member summary.

Current summary:
{{current_member_summary}}

Source guidance:
{{source_type_context}}
{{source_subtype_context}}

New records:
{{new_data_to_process}}
`

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate(validTemplate)
	require.NoError(t, err)
	assert.NotNil(t, tmpl)
}

func TestParseTemplate_MissingPlaceholder(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no summary", "{{source_type_context}} {{source_subtype_context}} {{new_data_to_process}}"},
		{"no type context", "{{current_member_summary}} {{source_subtype_context}} {{new_data_to_process}}"},
		{"no subtype context", "{{current_member_summary}} {{source_type_context}} {{new_data_to_process}}"},
		{"no new data", "{{current_member_summary}} {{source_type_context}} {{source_subtype_context}}"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate(tt.text)
			assert.ErrorIs(t, err, ErrTemplate)
		})
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tmpl.md")
	require.NoError(t, os.WriteFile(path, []byte(validTemplate), 0o644))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.NotNil(t, tmpl)

	_, err = LoadTemplate(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	tmpl, err := ParseTemplate(validTemplate)
	require.NoError(t, err)

	out := tmpl.Render("SUMMARY", "TYPE", "SUBTYPE", "DATA")
	assert.Contains(t, out, "SUMMARY")
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "SUBTYPE")
	assert.Contains(t, out, "DATA")
	assert.NotContains(t, out, "{{")
}
