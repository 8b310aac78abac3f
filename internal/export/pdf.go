package export

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	pdfLinesPerPage = 54
	pdfFontSize     = 11
	pdfLineGap      = 15
	pdfTopY         = 800
	pdfLeftX        = 50
)

// pdfLatinOnlyNote is rendered as the first line when the proposal contains
// text the base font cannot encode, pointing the reader at the docx export.
const pdfLatinOnlyNote = "Note: this PDF export uses a Latin-only font. Use the DOCX export for the full text."

// WritePDF renders the proposal as a minimal text-only PDF, one page per 54
// lines. Uses the base Helvetica font, which covers Latin only; characters
// outside it are replaced with "?" and the document opens with a note
// recommending the docx export instead.
func WritePDF(proposalText string) []byte {
	lines := strings.Split(proposalText, "\n")
	if hasNonLatin1(proposalText) {
		lines = append([]string{pdfLatinOnlyNote, ""}, lines...)
	}
	var pages [][]string
	for start := 0; start < len(lines); start += pdfLinesPerPage {
		end := start + pdfLinesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	if len(pages) == 0 {
		pages = [][]string{{""}}
	}

	// Object layout: 1 catalog, 2 pages, 3 font, then per page: page object,
	// content stream.
	var objects []string
	kids := make([]string, 0, len(pages))
	nextID := 4
	for _, pageLines := range pages {
		pageID := nextID
		contentID := nextID + 1
		nextID += 2
		kids = append(kids, fmt.Sprintf("%d 0 R", pageID))

		var content strings.Builder
		content.WriteString("BT\n/F1 " + fmt.Sprint(pdfFontSize) + " Tf\n")
		y := pdfTopY
		for _, line := range pageLines {
			fmt.Fprintf(&content, "1 0 0 1 %d %d Tm (%s) Tj\n", pdfLeftX, y, escapePDF(line))
			y -= pdfLineGap
		}
		content.WriteString("ET")

		objects = append(objects,
			fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n",
				pageID, contentID),
			fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
				contentID, content.Len(), content.String()),
		)
	}

	header := []string{
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n",
		fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
			strings.Join(kids, " "), len(pages)),
		"3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n",
	}
	objects = append(header, objects...)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objects))
	for _, obj := range objects {
		offsets = append(offsets, buf.Len())
		buf.WriteString(obj)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)

	return buf.Bytes()
}

// escapePDF produces a WinAnsi-safe string literal: ASCII passes through with
// delimiter escapes, the Latin-1 supplement is emitted as octal escapes, and
// characters the base font has no glyph for become "?". Raw multi-byte UTF-8
// must never reach the content stream.
func escapePDF(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '(':
			b.WriteString(`\(`)
		case r == ')':
			b.WriteString(`\)`)
		case r >= 0x20 && r < 0x7f:
			b.WriteByte(byte(r))
		case r >= 0xa0 && r <= 0xff:
			fmt.Fprintf(&b, `\%03o`, r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func hasNonLatin1(s string) bool {
	for _, r := range s {
		if r > 0xff {
			return true
		}
	}
	return false
}
