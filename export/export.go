// Package export renders statement reports as PDF, XLSX or JSON documents.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"finledger/apperror"
	"finledger/models"
)

type Format string

const (
	PDF  Format = "pdf"
	XLSX Format = "xlsx"
	JSON Format = "json"
)

const dateLayout = "2006-01-02 15:04:05"

// ParseFormat defaults to JSON when s is empty.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return JSON, nil
	case PDF, XLSX, JSON:
		return f, nil
	default:
		return "", apperror.Validationf("Unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case PDF:
		return "application/pdf"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

func (f Format) Filename() string {
	return "statements_report." + string(f)
}

// Report is the content of one export.
type Report struct {
	Owner      *models.User       `json:"user"`
	From       *time.Time         `json:"from,omitempty"`
	To         *time.Time         `json:"to,omitempty"`
	Statements []models.Statement `json:"statements"`
}

// Total is the signed sum of the report's statements.
func (r Report) Total() decimal.Decimal {
	return models.SumBalance(r.Statements)
}

func Write(w io.Writer, f Format, report Report) error {
	switch f {
	case PDF:
		return writePDF(w, report)
	case XLSX:
		return writeXLSX(w, report)
	case JSON:
		return writeJSON(w, report)
	default:
		return fmt.Errorf("export: unknown format %q", f)
	}
}

var columns = []struct {
	title string
	width float64
}{
	{"ID", 70},
	{"Type", 22},
	{"Amount", 25},
	{"Sender", 70},
	{"Description", 45},
	{"Date", 38},
}

func cells(st models.Statement) []string {
	sender := ""
	if st.SenderID != nil {
		sender = *st.SenderID
	}
	return []string{
		st.ID,
		string(st.Type),
		st.Signed().StringFixed(2),
		sender,
		st.Description,
		st.CreatedAt.UTC().Format(dateLayout),
	}
}

func period(r Report) string {
	from, to := "beginning", "today"
	if r.From != nil {
		from = r.From.Format("2006-01-02")
	}
	if r.To != nil {
		to = r.To.Format("2006-01-02")
	}
	return from + " to " + to
}

// writePDF uses the core Arial font, which covers cp1252 only. Text is
// translated from UTF-8; characters outside that code page cannot be shown.
func writePDF(w io.Writer, r Report) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Statements Report")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 11)
	if r.Owner != nil {
		pdf.Cell(40, 7, tr(fmt.Sprintf("%s <%s>", r.Owner.Name, r.Owner.Email)))
		pdf.Ln(7)
	}
	pdf.Cell(40, 7, "Period: "+period(r))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 10)
	for _, c := range columns {
		pdf.CellFormat(c.width, 7, c.title, "1", 0, "", false, 0, "")
	}
	pdf.Ln(7)

	pdf.SetFont("Arial", "", 9)
	for _, st := range r.Statements {
		for i, value := range cells(st) {
			pdf.CellFormat(columns[i].width, 7, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(7)
	}

	pdf.Ln(3)
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(40, 7, "Total: "+r.Total().StringFixed(2))

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export pdf: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, r Report) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Statements")
	if err != nil {
		return fmt.Errorf("export xlsx: %w", err)
	}

	row := sheet.AddRow()
	for _, c := range columns {
		row.AddCell().SetValue(c.title)
	}
	for _, st := range r.Statements {
		row = sheet.AddRow()
		for _, value := range cells(st) {
			row.AddCell().SetValue(value)
		}
	}
	row = sheet.AddRow()
	row.AddCell()
	row.AddCell().SetValue("Total")
	row.AddCell().SetValue(r.Total().StringFixed(2))

	if err := file.Write(w); err != nil {
		return fmt.Errorf("export xlsx: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, r Report) error {
	payload := struct {
		Report
		Total decimal.Decimal `json:"total"`
	}{r, r.Total()}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}
