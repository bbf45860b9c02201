package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	tagRegex        = regexp.MustCompile(`<[^>]+>`)
)

// stripTags removes HTML markup and collapses whitespace, for preview
// generation. goquery handles real markup; the regex fallback covers
// fragments goquery refuses to parse.
func stripTags(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	var text string
	if err != nil {
		text = tagRegex.ReplaceAllString(s, "")
	} else {
		doc.Find("script, style, head").Remove()
		text = doc.Text()
	}
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// truncateRunes shortens s to at most n runes without splitting one.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}
