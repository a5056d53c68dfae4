// Package export writes batch results to XLSX workbooks for manual review.
package export

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

var leadHeaders = []string{
	"ID", "First Name", "Last Name", "Company", "Normalized Company",
	"Email", "Email Status", "Job Title", "Website", "Location",
	"Score", "Verdict", "Reasons", "Segment", "Role Segment",
	"Personalization", "Tier", "Source URL",
}

// WriteBatch writes the batch to an XLSX workbook with a Leads sheet and a
// Summary sheet.
func WriteBatch(path string, batch *model.Batch) error {
	f := xlsx.NewFile()

	if err := addLeadsSheet(f, batch); err != nil {
		return err
	}
	if err := addSummarySheet(f, batch); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addLeadsSheet(f *xlsx.File, batch *model.Batch) error {
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add leads sheet")
	}

	addRow(sheet, leadHeaders...)
	for i := range batch.Leads {
		l := &batch.Leads[i]
		addRow(sheet,
			l.ID,
			l.FirstName,
			l.LastName,
			l.CompanyName,
			l.NormalizedName,
			l.Email,
			string(l.ContactStatus),
			l.JobTitle,
			l.Website,
			l.Location(),
			scoreCell(l.Validation),
			verdictCell(l.Validation),
			reasonsCell(l.Validation),
			string(l.Segment),
			l.RoleSegmentID,
			personalizationText(l.Personalization),
			tierCell(l.Personalization),
			personalizationSource(l.Personalization),
		)
	}
	return nil
}

func addSummarySheet(f *xlsx.File, batch *model.Batch) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addRow(sheet, "Batch ID", batch.ID)
	addRow(sheet, "Stage", string(batch.Stage))
	addRow(sheet, "Created", batch.CreatedAt.Format("2006-01-02 15:04:05"))
	addRow(sheet, "")

	s := batch.Stats
	for _, kv := range []struct {
		label string
		value int
	}{
		{"Scraped", s.Scraped},
		{"Valid", s.Valid},
		{"Invalid", s.Invalid},
		{"Filtered", s.Filtered},
		{"Email Valid", s.EmailValid},
		{"Email Risky", s.EmailRisky},
		{"Email Invalid", s.EmailInvalid},
		{"Enriched", s.Enriched},
		{"Personalized", s.Personalized},
		{"Generic", s.Generic},
		{"Uploaded", s.Uploaded},
		{"Duplicates", s.Duplicates},
	} {
		addRow(sheet, kv.label, strconv.Itoa(kv.value))
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}

func scoreCell(v *model.Validation) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(v.Score)
}

func verdictCell(v *model.Validation) string {
	if v == nil {
		return ""
	}
	return string(v.Verdict)
}

func reasonsCell(v *model.Validation) string {
	if v == nil {
		return ""
	}
	return strings.Join(v.Reasons, "; ")
}

func personalizationText(p *model.Personalization) string {
	if p == nil {
		return ""
	}
	return p.Text
}

func personalizationSource(p *model.Personalization) string {
	if p == nil {
		return ""
	}
	return p.SourceURL
}

func tierCell(p *model.Personalization) string {
	if p == nil || p.Tier == 0 {
		return ""
	}
	return strconv.Itoa(int(p.Tier))
}
