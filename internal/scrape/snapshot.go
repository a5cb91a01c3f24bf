package scrape

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Default snapshot bounds for prompts sent to the external model.
const (
	SnapshotMaxRows  = 40
	SnapshotMaxChars = 6000
)

// Snapshot renders the document's table content as compact pipe-delimited
// text, bounded by row count and character budget. This is what leaves the
// process toward the external model, so it must never include script or
// attribute content, only cell text.
func Snapshot(doc *goquery.Document, maxRows, maxChars int) string {
	var b strings.Builder
	rows := 0
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if rows >= maxRows || b.Len() >= maxChars {
			return false
		}
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(cells) == 0 {
			return true
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
		rows++
		return true
	})

	out := b.String()
	if len(out) > maxChars {
		// Never cut inside a multi-byte rune; the model receives the
		// snapshot as text and broken UTF-8 corrupts the tail.
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return strings.TrimSpace(out)
}
