package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Document is the renderable projection of a finalized SOP.
type Document struct {
	Title       string
	Description string
	Department  string
	Frameworks  []string
	Sections    []Section
	Score       *int
	GeneratedAt time.Time
	JobID       string
}

// Section is one titled body within a document.
type Section struct {
	Title       string
	Body        string
	Placeholder bool
}

// PDFExporter renders SOP documents into a controlled-document PDF layout.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render produces the PDF bytes for a document.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("pdf requires at least one section")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Job %s - Page %d - Controlled document, verify current revision before use", doc.JobID, pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 9, strings.ToUpper(doc.Title), "", "C", false)
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	meta := []string{
		fmt.Sprintf("Department: %s", doc.Department),
		fmt.Sprintf("Generated: %s", doc.GeneratedAt.Format("2006-01-02 15:04 MST")),
	}
	if len(doc.Frameworks) > 0 {
		meta = append(meta, fmt.Sprintf("Regulatory frameworks: %s", strings.Join(doc.Frameworks, ", ")))
	}
	if doc.Score != nil {
		meta = append(meta, fmt.Sprintf("Compliance score: %d/100", *doc.Score))
	}
	for _, line := range meta {
		pdf.CellFormat(0, 6, line, "", 1, "", false, 0, "")
	}
	pdf.Ln(2)

	if doc.Description != "" {
		pdf.SetFont("Arial", "I", 10)
		pdf.MultiCell(0, 5, doc.Description, "", "", false)
		pdf.Ln(3)
	}

	for i, section := range doc.Sections {
		pdf.SetFont("Arial", "B", 12)
		title := fmt.Sprintf("%d. %s", i+1, section.Title)
		if section.Placeholder {
			title += " (requires manual authoring)"
		}
		pdf.CellFormat(0, 8, title, "", 1, "", false, 0, "")

		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, section.Body, "", "", false)
		pdf.Ln(3)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
