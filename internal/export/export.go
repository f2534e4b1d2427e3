// Package export writes consolidated member insights to reviewer-friendly
// artifacts: an XLSX workbook and per-contact markdown files.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/insights-cli/internal/model"
)

// workbookHeader is the column layout of the summary sheet. Section columns
// follow model.SectionTitles order.
var workbookHeader = []string{
	"Contact ID", "Member Name", "Version",
	"Personal", "Business", "Investing", "Network Activity", "Deals", "Introductions",
	"Records", "Generated At",
}

// WriteWorkbook writes one row per insight into an XLSX file at path.
func WriteWorkbook(path string, insights []model.Insight) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Member Insights")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range workbookHeader {
		header.AddCell().SetString(col)
	}

	for _, ins := range insights {
		row := sheet.AddRow()
		row.AddCell().SetString(ins.ContactID)
		row.AddCell().SetString(ins.MemberName)
		row.AddCell().SetInt(ins.Version)
		for _, content := range ins.Sections.Ordered() {
			row.AddCell().SetString(content)
		}
		row.AddCell().SetInt(ins.TotalRecordsSeen)
		row.AddCell().SetString(ins.GeneratedAt.Format("2006-01-02 15:04:05"))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}

// WriteMarkdown writes one markdown file per insight under dir, named by the
// sanitized contact id.
func WriteMarkdown(dir string, insights []model.Insight) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "export: create markdown dir")
	}

	for _, ins := range insights {
		name := ins.MemberName
		if name == "" {
			name = ins.ContactID
		}
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", name)
		fmt.Fprintf(&b, "Contact: %s | Version: %d | Generated: %s\n\n",
			ins.ContactID, ins.Version, ins.GeneratedAt.Format("2006-01-02"))
		b.WriteString(ins.Sections.Markdown())
		b.WriteString("\n")

		path := filepath.Join(dir, sanitizeFilename(ins.ContactID)+".md")
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return eris.Wrap(err, fmt.Sprintf("export: write markdown %s", ins.ContactID))
		}
	}
	return nil
}

// sanitizeFilename replaces path separators so contact ids are safe filenames.
func sanitizeFilename(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
}
