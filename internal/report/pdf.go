package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// maxHeaderRows caps the keyword listing per HDU.
const maxHeaderRows = 60

// SavePDF renders s into a PDF document. The SHA-256 digest is embedded as a
// QR code so a printed report can be matched against the file.
func SavePDF(s Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("FITS Summary", false)
	pdf.SetAuthor("fitsctl", false)
	pdf.SetCreator("fitsctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "FITS Summary")
	if err := addSummarySection(pdf, s); err != nil {
		return err
	}
	addHDUTable(pdf, s.HDUs)
	for _, h := range s.HDUs {
		addHeaderSection(pdf, h)
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, s Summary) error {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	top := pdf.GetY()
	pdf.SetFont("Helvetica", "", 10)
	items := []struct {
		label string
		value string
	}{
		{label: "File", value: s.File},
		{label: "Size", value: fmt.Sprintf("%d bytes", s.Size)},
		{label: "HDUs", value: strconv.Itoa(len(s.HDUs))},
		{label: "Structure", value: validLabel(s.Valid)},
		{label: "Generated", value: s.CreatedAt.Format(time.RFC3339)},
		{label: "SHA-256", value: s.SHA256},
		{label: "BLAKE3", value: s.BLAKE3},
	}
	for _, item := range items {
		pdf.CellFormat(28, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(112, 6, emptyFallback(item.value, "-"), "", "L", false)
	}
	if s.Error != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(140, 5, "Error: "+s.Error, "", "L", false)
	}

	if s.SHA256 != "" {
		png, err := DigestToQR(s.SHA256, 256)
		if err != nil {
			return err
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("sha256qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("sha256qr", 160, top, 35, 35, false, opts, 0, "")
	}
	if y := top + 38; pdf.GetY() < y {
		pdf.SetY(y)
	}
	pdf.Ln(4)
	return nil
}

func addHDUTable(pdf *gofpdf.Fpdf, rows []HDUSummary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "HDUs")
	pdf.Ln(9)

	headers := []string{"#", "Kind", "BITPIX", "Axes", "Cards", "Data", "Min", "Max"}
	widths := []float64{10, 26, 18, 34, 16, 24, 26, 26}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		minVal, maxVal := "-", "-"
		if row.Stats != nil {
			minVal = strconv.FormatFloat(row.Stats.Min, 'g', 6, 64)
			maxVal = strconv.FormatFloat(row.Stats.Max, 'g', 6, 64)
		}
		values := []string{
			strconv.Itoa(row.Index),
			emptyFallback(row.Kind, "-"),
			strconv.FormatInt(row.Bitpix, 10),
			axesLabel(row.Axes),
			strconv.Itoa(row.Cards),
			strconv.Itoa(row.DataBytes),
			minVal,
			maxVal,
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func addHeaderSection(pdf *gofpdf.Fpdf, h HDUSummary) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.MultiCell(0, 6, fmt.Sprintf("HDU %d header (%s)", h.Index, emptyFallback(h.Kind, "-")), "", "L", false)
	pdf.SetFont("Courier", "", 8)
	keys := h.Header.Keys()
	for i, k := range keys {
		if i == maxHeaderRows {
			pdf.MultiCell(0, 4, fmt.Sprintf("... %d more keywords", len(keys)-maxHeaderRows), "", "L", false)
			break
		}
		pdf.MultiCell(0, 4, fmt.Sprintf("%-8s = %s", k, h.Header[k]), "", "L", false)
	}
	if h.Error != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, "Error: "+h.Error, "", "L", false)
	}
	pdf.Ln(3)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func axesLabel(axes []int) string {
	if len(axes) == 0 {
		return "-"
	}
	parts := make([]string, len(axes))
	for i, n := range axes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " x ")
}

func validLabel(valid bool) string {
	if valid {
		return "VALID"
	}
	return "INVALID"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
