package scrape

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Fingerprint computes a stable hash of a document's table header shape,
// used to detect markup drift between runs. Header cell texts are joined
// in document order and hashed; documents without header cells fall back
// to the first row's cell count. The value is only ever compared for
// equality.
func Fingerprint(doc *goquery.Document) string {
	var headers []string
	doc.Find("table th, table thead td").Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(cell.Text()))
	})

	if len(headers) == 0 {
		cols := doc.Find("table tr").First().Find("td, th").Length()
		return fmt.Sprintf("cols:%d", cols)
	}

	sum := sha256.Sum256([]byte(strings.Join(headers, "|")))
	return hex.EncodeToString(sum[:])
}
