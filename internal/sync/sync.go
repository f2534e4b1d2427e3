// Package sync pushes consolidated member summaries to downstream
// destinations. Sync failures are logged and counted, never fatal: the
// committed insight version is the source of truth and a later run can
// re-push it.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jomei/notionapi"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/model"
	"github.com/sells-group/insights-cli/pkg/notion"
	"github.com/sells-group/insights-cli/pkg/salesforce"
)

// notionTextLimit is Notion's per-rich-text-object content cap.
const notionTextLimit = 2000

// Result tallies per-destination outcomes for one sync pass.
type Result struct {
	NotionSynced     int `json:"notion_synced"`
	NotionFailed     int `json:"notion_failed"`
	SalesforceSynced int `json:"salesforce_synced"`
	SalesforceFailed int `json:"salesforce_failed"`
}

// Add accumulates another result into r.
func (r *Result) Add(other Result) {
	r.NotionSynced += other.NotionSynced
	r.NotionFailed += other.NotionFailed
	r.SalesforceSynced += other.SalesforceSynced
	r.SalesforceFailed += other.SalesforceFailed
}

// Syncer writes summaries to whichever destinations are configured. A nil
// destination is skipped.
type Syncer struct {
	notionClient notion.Client
	notionDB     string

	sfClient salesforce.Client
	sfField  string
}

// Option configures a Syncer destination.
type Option func(*Syncer)

// WithNotion enables sync to the member-summary Notion database.
func WithNotion(c notion.Client, dbID string) Option {
	return func(s *Syncer) {
		s.notionClient = c
		s.notionDB = dbID
	}
}

// WithSalesforce enables writing the summary into a Contact field.
func WithSalesforce(c salesforce.Client, summaryField string) Option {
	return func(s *Syncer) {
		s.sfClient = c
		s.sfField = summaryField
	}
}

// New builds a Syncer. With no options it is a no-op.
func New(opts ...Option) *Syncer {
	s := &Syncer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether at least one destination is configured.
func (s *Syncer) Enabled() bool {
	return s.notionClient != nil || s.sfClient != nil
}

// Sync pushes one insight to all configured destinations. Errors are
// absorbed into the result counts.
func (s *Syncer) Sync(ctx context.Context, ins *model.Insight) Result {
	var res Result
	if ins == nil {
		return res
	}

	if s.notionClient != nil {
		if err := s.syncNotion(ctx, ins); err != nil {
			zap.L().Warn("notion sync failed",
				zap.String("contact_id", ins.ContactID),
				zap.Int("version", ins.Version),
				zap.Error(err))
			res.NotionFailed++
		} else {
			res.NotionSynced++
		}
	}

	if s.sfClient != nil {
		if err := s.syncSalesforce(ctx, ins); err != nil {
			zap.L().Warn("salesforce sync failed",
				zap.String("contact_id", ins.ContactID),
				zap.Int("version", ins.Version),
				zap.Error(err))
			res.SalesforceFailed++
		} else {
			res.SalesforceSynced++
		}
	}

	return res
}

// Resync pushes a batch of insights to all configured destinations. Unlike
// Sync it loads the whole Notion page index up front with one paginated
// query, instead of one lookup per contact. Errors are absorbed into the
// result counts.
func (s *Syncer) Resync(ctx context.Context, insights []model.Insight) Result {
	var res Result

	var pageIndex map[string]notionapi.ObjectID
	if s.notionClient != nil {
		idx, err := s.loadPageIndex(ctx)
		if err != nil {
			zap.L().Warn("notion page index unavailable, skipping notion resync",
				zap.String("database", s.notionDB),
				zap.Error(err))
			res.NotionFailed += len(insights)
		} else {
			pageIndex = idx
		}
	}

	for i := range insights {
		ins := &insights[i]
		if pageIndex != nil {
			if err := s.pushNotion(ctx, ins, pageIndex); err != nil {
				zap.L().Warn("notion resync failed",
					zap.String("contact_id", ins.ContactID),
					zap.Error(err))
				res.NotionFailed++
			} else {
				res.NotionSynced++
			}
		}
		if s.sfClient != nil {
			if err := s.syncSalesforce(ctx, ins); err != nil {
				zap.L().Warn("salesforce resync failed",
					zap.String("contact_id", ins.ContactID),
					zap.Error(err))
				res.SalesforceFailed++
			} else {
				res.SalesforceSynced++
			}
		}
	}

	return res
}

// loadPageIndex maps contact IDs to existing summary page IDs.
func (s *Syncer) loadPageIndex(ctx context.Context) (map[string]notionapi.ObjectID, error) {
	pages, err := notion.QueryAll(ctx, s.notionClient, s.notionDB, nil)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]notionapi.ObjectID, len(pages))
	for i := range pages {
		if id := pageContactID(&pages[i]); id != "" {
			idx[id] = pages[i].ID
		}
	}
	return idx, nil
}

// pushNotion writes one insight against a preloaded page index, recording
// created pages so duplicate contact IDs in the batch update rather than
// create twice.
func (s *Syncer) pushNotion(ctx context.Context, ins *model.Insight, idx map[string]notionapi.ObjectID) error {
	props := summaryProperties(ins)
	if pageID, ok := idx[ins.ContactID]; ok {
		_, err := s.notionClient.UpdatePage(ctx, string(pageID), &notionapi.PageUpdateRequest{
			Properties: props,
		})
		return err
	}
	page, err := s.notionClient.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.notionDB),
		},
		Properties: props,
	})
	if err != nil {
		return err
	}
	idx[ins.ContactID] = page.ID
	return nil
}

// pageContactID reads the "Contact ID" rich-text property off a summary page.
func pageContactID(page *notionapi.Page) string {
	prop, ok := page.Properties["Contact ID"]
	if !ok {
		return ""
	}
	var rich []notionapi.RichText
	switch p := prop.(type) {
	case *notionapi.RichTextProperty:
		rich = p.RichText
	case notionapi.RichTextProperty:
		rich = p.RichText
	default:
		return ""
	}
	var b strings.Builder
	for _, rt := range rich {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}

// syncNotion creates or updates the contact's page in the summary database.
func (s *Syncer) syncNotion(ctx context.Context, ins *model.Insight) error {
	page, err := notion.FindPageByContactID(ctx, s.notionClient, s.notionDB, ins.ContactID)
	if err != nil {
		return err
	}

	props := summaryProperties(ins)
	if page == nil {
		_, err = s.notionClient.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(s.notionDB),
			},
			Properties: props,
		})
		return err
	}

	_, err = s.notionClient.UpdatePage(ctx, string(page.ID), &notionapi.PageUpdateRequest{
		Properties: props,
	})
	return err
}

// syncSalesforce resolves the SF Contact by external id and writes the
// summary field.
func (s *Syncer) syncSalesforce(ctx context.Context, ins *model.Insight) error {
	contact, err := salesforce.FindContactByExternalID(ctx, s.sfClient, ins.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("no salesforce contact for %s", ins.ContactID)
	}
	return salesforce.UpdateMemberSummary(ctx, s.sfClient, contact.ID, s.sfField, ins.Sections.Markdown())
}

// summaryProperties maps an insight onto the summary database's schema.
func summaryProperties(ins *model.Insight) notionapi.Properties {
	name := ins.MemberName
	if name == "" {
		name = ins.ContactID
	}
	return notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: richText(name),
		},
		"Contact ID": notionapi.RichTextProperty{
			RichText: richText(ins.ContactID),
		},
		"Summary": notionapi.RichTextProperty{
			RichText: richText(truncate(ins.Sections.Markdown(), notionTextLimit)),
		},
		"Version": notionapi.NumberProperty{
			Number: float64(ins.Version),
		},
		"Generated At": notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: datePtr(ins.GeneratedAt),
			},
		},
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

// truncate caps s at limit characters. Notion counts rich-text length in
// characters, not bytes, so the cut lands on a rune boundary.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func datePtr(t time.Time) *notionapi.Date {
	d := notionapi.Date(t)
	return &d
}
