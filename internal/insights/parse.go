// Package insights parses generation output into the six-section structure
// and merges it into the next version of a contact's consolidated record.
package insights

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insights-cli/internal/model"
)

// ErrParse indicates that generation output is neither valid structured data
// nor parseable markdown. The batch's records stay unmarked and are retried
// in a future run.
var ErrParse = eris.New("insights: unparseable generation output")

var (
	jsonFenceRe    = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	genericFenceRe = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	sectionRe      = regexp.MustCompile(`(?m)^##\s+(.+?)\s*$`)
)

// sectionPayload accepts both the canonical field names and the legacy "3i"
// alias for network activity.
type sectionPayload struct {
	Personal        string `json:"personal"`
	Business        string `json:"business"`
	Investing       string `json:"investing"`
	NetworkActivity string `json:"network_activity"`
	NetworkLegacy   string `json:"3i"`
	Deals           string `json:"deals"`
	Introductions   string `json:"introductions"`
}

func (p sectionPayload) sections() model.Sections {
	network := p.NetworkActivity
	if network == "" {
		network = p.NetworkLegacy
	}
	return model.Sections{
		Personal:        strings.TrimSpace(p.Personal),
		Business:        strings.TrimSpace(p.Business),
		Investing:       strings.TrimSpace(p.Investing),
		NetworkActivity: strings.TrimSpace(network),
		Deals:           strings.TrimSpace(p.Deals),
		Introductions:   strings.TrimSpace(p.Introductions),
	}
}

// Parse converts raw generation output into sections. Stages, in order:
// whole-output JSON, ```json fenced block, generic fenced block, markdown
// `## Section` headers. A JSON stage that parses but yields all-empty
// sections falls through to the markdown stage once. All stages failing
// returns ErrParse.
func Parse(raw string) (model.Sections, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return model.Sections{}, eris.Wrap(ErrParse, "empty output")
	}

	for _, candidate := range jsonCandidates(trimmed) {
		var p sectionPayload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		if s := p.sections(); !s.Empty() {
			return s, nil
		}
	}

	if s, ok := parseMarkdown(trimmed); ok {
		return s, nil
	}
	return model.Sections{}, eris.Wrap(ErrParse, "no JSON object or known markdown sections")
}

func jsonCandidates(raw string) []string {
	var out []string
	out = append(out, raw)
	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		out = append(out, m[1])
	}
	if m := genericFenceRe.FindStringSubmatch(raw); m != nil {
		out = append(out, m[1])
	}
	return out
}

// sectionField maps a normalized markdown header to a section setter.
func sectionField(header string) func(*model.Sections, string) {
	switch strings.ToLower(strings.TrimSpace(strings.Trim(header, ":"))) {
	case "personal":
		return func(s *model.Sections, v string) { s.Personal = v }
	case "business":
		return func(s *model.Sections, v string) { s.Business = v }
	case "investing":
		return func(s *model.Sections, v string) { s.Investing = v }
	case "network activity", "network-activity", "3i":
		return func(s *model.Sections, v string) { s.NetworkActivity = v }
	case "deals":
		return func(s *model.Sections, v string) { s.Deals = v }
	case "introductions":
		return func(s *model.Sections, v string) { s.Introductions = v }
	}
	return nil
}

// parseMarkdown splits the output on `## Header` lines and collects content
// under known section headers. Unknown headers are ignored; ok is false when
// no known header carries content.
func parseMarkdown(raw string) (model.Sections, bool) {
	matches := sectionRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return model.Sections{}, false
	}

	var s model.Sections
	found := false
	for i, m := range matches {
		header := raw[m[2]:m[3]]
		set := sectionField(header)
		if set == nil {
			continue
		}
		start := m[1]
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(raw[start:end])
		if body == "" {
			continue
		}
		set(&s, body)
		found = true
	}
	return s, found
}
