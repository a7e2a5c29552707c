package generation

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// tagPattern matches one complete tag; a "<" with no closing ">" is text
var tagPattern = regexp.MustCompile(`<[^>]*>`)

// blockElements get a separator so "a<br>b" does not become "ab"
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "footer": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"hr": true, "li": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// Normalize strips HTML tags from rich-text content, decodes entities,
// collapses runs of whitespace to one space and trims the result.
func Normalize(content string) string {
	stripped := tagPattern.ReplaceAllStringFunc(content, func(tag string) string {
		if blockElements[tagName(tag)] {
			return " "
		}
		return ""
	})
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

// tagName returns the lowercased element name of "<p class=x>" or "</p>"
func tagName(tag string) string {
	inner := strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">"), "/")
	end := strings.IndexFunc(inner, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if end >= 0 {
		inner = inner[:end]
	}
	return strings.ToLower(inner)
}
