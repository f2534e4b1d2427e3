// Package model defines the core data types shared across the insights pipeline.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Sections holds the six narrative sections of a member insight.
// Empty string means the section has no content yet.
type Sections struct {
	Personal        string `json:"personal,omitempty"`
	Business        string `json:"business,omitempty"`
	Investing       string `json:"investing,omitempty"`
	NetworkActivity string `json:"network_activity,omitempty"`
	Deals           string `json:"deals,omitempty"`
	Introductions   string `json:"introductions,omitempty"`
}

// Empty reports whether every section is blank.
func (s Sections) Empty() bool {
	return s.Personal == "" && s.Business == "" && s.Investing == "" &&
		s.NetworkActivity == "" && s.Deals == "" && s.Introductions == ""
}

// SectionTitles lists the section display names in canonical order.
var SectionTitles = []string{
	"Personal", "Business", "Investing", "Network Activity", "Deals", "Introductions",
}

// Ordered returns the section contents in canonical order, parallel to
// SectionTitles.
func (s Sections) Ordered() []string {
	return []string{
		s.Personal, s.Business, s.Investing, s.NetworkActivity, s.Deals, s.Introductions,
	}
}

// Markdown renders the sections as a markdown document with `## Title`
// headers. Blank sections are omitted; an all-blank value renders as "".
func (s Sections) Markdown() string {
	var b strings.Builder
	contents := s.Ordered()
	for i, title := range SectionTitles {
		if contents[i] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n\n")
		b.WriteString(contents[i])
	}
	return b.String()
}

// Insight is one immutable version of a contact's consolidated member insight.
// Exactly one version per contact carries IsLatest at any moment.
type Insight struct {
	ID          string   `json:"id,omitempty"`
	ContactID   string   `json:"contact_id"`
	SyntheticID string   `json:"synthetic_id"`
	MemberName  string   `json:"member_name,omitempty"`
	Sections    Sections `json:"sections"`

	SourceTypes    []string `json:"source_types"`
	SourceSubtypes []string `json:"source_subtypes"`

	TotalRecordsSeen int `json:"total_records_seen"`
	RecordCount      int `json:"record_count"`

	Version  int  `json:"version"`
	IsLatest bool `json:"is_latest"`

	EstInputTokens    int     `json:"est_input_tokens,omitempty"`
	EstInsightsTokens int     `json:"est_insights_tokens,omitempty"`
	GenerationSeconds float64 `json:"generation_seconds,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// SyntheticID returns the fixed consolidated record id for a contact.
// It is stable across all versions.
func SyntheticID(contactID string) string {
	return fmt.Sprintf("COMBINED-%s-ALL", contactID)
}

// SourceRecord is one timestamped member-activity record fetched from the
// source log. Immutable once fetched.
type SourceRecord struct {
	RecordID      string    `json:"record_id"`
	ContactID     string    `json:"contact_id"`
	Description   string    `json:"description"`
	LoggedAt      time.Time `json:"logged_at"`
	SourceType    string    `json:"source_type"`
	SourceSubtype string    `json:"source_subtype,omitempty"`
}

// BatchKey identifies one unit of work: a (source_type, source_subtype)
// pairing for a contact. An empty Subtype means the null subtype.
type BatchKey struct {
	SourceType string
	Subtype    string
}

// String renders the key as "type/subtype", using "null" for an absent subtype.
func (k BatchKey) String() string {
	sub := k.Subtype
	if sub == "" {
		sub = "null"
	}
	return k.SourceType + "/" + sub
}
