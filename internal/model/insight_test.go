package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyntheticID(t *testing.T) {
	assert.Equal(t, "COMBINED-CNT-100001-ALL", SyntheticID("CNT-100001"))
}

func TestSections_Empty(t *testing.T) {
	assert.True(t, Sections{}.Empty())
	assert.False(t, Sections{Deals: "x"}.Empty())
}

func TestSections_Markdown(t *testing.T) {
	s := Sections{
		Personal: "Enjoys sailing.",
		Deals:    "Closed series A.",
	}
	got := s.Markdown()
	assert.Equal(t, "## Personal\n\nEnjoys sailing.\n\n## Deals\n\nClosed series A.", got)

	assert.Empty(t, Sections{}.Markdown())
}

func TestSections_OrderedMatchesTitles(t *testing.T) {
	s := Sections{Personal: "p", Business: "b", Investing: "i", NetworkActivity: "n", Deals: "d", Introductions: "x"}
	assert.Len(t, SectionTitles, len(s.Ordered()))
	assert.Equal(t, []string{"p", "b", "i", "n", "d", "x"}, s.Ordered())
}

func TestBatchKey_String(t *testing.T) {
	assert.Equal(t, "call_note/null", BatchKey{SourceType: "call_note"}.String())
	assert.Equal(t, "call_note/intro_call", BatchKey{SourceType: "call_note", Subtype: "intro_call"}.String())
}

func TestContactSummary_Succeeded(t *testing.T) {
	assert.True(t, ContactSummary{BatchesCompleted: 2}.Succeeded())
	assert.False(t, ContactSummary{BatchesFailed: 1}.Succeeded())
	assert.False(t, ContactSummary{Fatal: true}.Succeeded())
	assert.False(t, ContactSummary{Errors: []string{"x"}}.Succeeded())
}
