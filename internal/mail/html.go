package mail

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML extracts readable text from an HTML mail body. Script and style
// elements are dropped, block boundaries become newlines, and runs of blank
// lines collapse to one.
func StripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Unparseable HTML: fall back to the raw text, which is still
		// better than losing the message.
		return strings.TrimSpace(html)
	}

	doc.Find("script, style, head").Remove()
	doc.Find("br, p, div, tr, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := doc.Text()
	lines := strings.Split(text, "\n")
	var kept []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(kept) > 0 {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
