package extsync

import (
	"strings"

	"golang.org/x/net/html"
)

// DescriptionText flattens scraped description HTML to plain text. Script
// and style contents are dropped and whitespace collapses to single spaces.
// Input without markup is returned trimmed.
func DescriptionText(description string) string {
	if description == "" {
		return ""
	}
	if !strings.ContainsRune(description, '<') {
		return strings.Join(strings.Fields(description), " ")
	}

	doc, err := html.Parse(strings.NewReader(description))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(b.String()), " ")
}
