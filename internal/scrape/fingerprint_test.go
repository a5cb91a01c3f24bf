package scrape

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestFingerprintStableAcrossValueChanges(t *testing.T) {
	a := mustDoc(t, `<table>
<tr><th>Döviz</th><th>Alış</th><th>Satış</th></tr>
<tr><td>USD</td><td>43,21</td><td>43,55</td></tr>
</table>`)
	b := mustDoc(t, `<table>
<tr><th>Döviz</th><th>Alış</th><th>Satış</th></tr>
<tr><td>USD</td><td>44,90</td><td>45,10</td></tr>
<tr><td>EUR</td><td>46,80</td><td>47,15</td></tr>
</table>`)

	// Same header shape, different values and row count.
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 64)
}

func TestFingerprintChangesWithHeaders(t *testing.T) {
	a := mustDoc(t, `<table><tr><th>Döviz</th><th>Alış</th><th>Satış</th></tr></table>`)
	b := mustDoc(t, `<table><tr><th>Currency</th><th>Buy</th><th>Sell</th></tr></table>`)
	c := mustDoc(t, `<table><tr><th>Döviz</th><th>Alış</th><th>Satış</th><th>Değişim</th></tr></table>`)

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestFingerprintHeaderlessFallback(t *testing.T) {
	doc := mustDoc(t, `<table>
<tr><td>USD</td><td>43,21</td><td>43,55</td></tr>
</table>`)
	assert.Equal(t, "cols:3", Fingerprint(doc))

	empty := mustDoc(t, `<p>no tables here</p>`)
	assert.Equal(t, "cols:0", Fingerprint(empty))
}

func TestFingerprintTheadCells(t *testing.T) {
	doc := mustDoc(t, `<table><thead><tr><td>Döviz</td><td>Alış</td></tr></thead>
<tbody><tr><td>USD</td><td>43,21</td></tr></tbody></table>`)
	assert.Len(t, Fingerprint(doc), 64)
}
