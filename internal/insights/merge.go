package insights

import (
	"time"

	"github.com/sells-group/insights-cli/internal/model"
)

// BatchOutcome is one batch's contribution to the consolidated record.
type BatchOutcome struct {
	Batch             model.BatchKey
	Sections          model.Sections
	RecordsIncluded   int
	RecordsInBatch    int
	EstInputTokens    int
	EstInsightsTokens int
	GenerationSeconds float64
}

// Merge produces version N+1 of a contact's consolidated record from the
// prior version (nil when none exists) plus one batch's parsed output.
// Sections only grow: new content is appended verbatim after a blank line,
// an empty new section leaves the prior content untouched.
func Merge(prior *model.Insight, contactID string, out BatchOutcome, now time.Time) *model.Insight {
	next := &model.Insight{
		ContactID:   contactID,
		SyntheticID: model.SyntheticID(contactID),
		Version:     1,
		IsLatest:    true,
		GeneratedAt: now.UTC(),
	}
	if prior != nil {
		next.MemberName = prior.MemberName
		next.Sections = prior.Sections
		next.SourceTypes = append([]string(nil), prior.SourceTypes...)
		next.SourceSubtypes = append([]string(nil), prior.SourceSubtypes...)
		next.TotalRecordsSeen = prior.TotalRecordsSeen
		next.RecordCount = prior.RecordCount
		next.EstInputTokens = prior.EstInputTokens
		next.EstInsightsTokens = prior.EstInsightsTokens
		next.GenerationSeconds = prior.GenerationSeconds
		next.Version = prior.Version + 1
	}

	next.Sections = appendSections(next.Sections, out.Sections)
	next.SourceTypes = appendUnique(next.SourceTypes, out.Batch.SourceType)
	if out.Batch.Subtype != "" {
		next.SourceSubtypes = appendUnique(next.SourceSubtypes, out.Batch.Subtype)
	}
	next.TotalRecordsSeen += out.RecordsInBatch
	next.RecordCount += out.RecordsIncluded
	next.EstInputTokens += out.EstInputTokens
	next.EstInsightsTokens += out.EstInsightsTokens
	next.GenerationSeconds += out.GenerationSeconds

	return next
}

func appendSections(old, add model.Sections) model.Sections {
	return model.Sections{
		Personal:        appendSection(old.Personal, add.Personal),
		Business:        appendSection(old.Business, add.Business),
		Investing:       appendSection(old.Investing, add.Investing),
		NetworkActivity: appendSection(old.NetworkActivity, add.NetworkActivity),
		Deals:           appendSection(old.Deals, add.Deals),
		Introductions:   appendSection(old.Introductions, add.Introductions),
	}
}

func appendSection(old, add string) string {
	if add == "" || add == old {
		// Unchanged content is a valid "no new information" outcome.
		return old
	}
	if old == "" {
		return add
	}
	return old + "\n\n" + add
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
