package format

import (
	"html"
	"regexp"
	"strings"
)

var reBold = regexp.MustCompile(`\*\*(.+?)\*\*`)

// RenderHTML renders p in Telegram's HTML parse mode.
//
// Only **bold** markers are interpreted; all other text is escaped.
// A trailing image link lets Telegram show the sprite as a link preview.
func RenderHTML(p Payload) string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(p.Title))
		b.WriteString("</b>\n")
	}
	if p.Description != "" {
		b.WriteString(inline(p.Description))
		b.WriteString("\n")
	}
	for _, f := range p.Fields {
		b.WriteString("\n<b>")
		b.WriteString(html.EscapeString(f.Name))
		b.WriteString("</b>\n")
		b.WriteString(inline(f.Value))
		b.WriteString("\n")
	}
	if p.Footer != "" {
		b.WriteString("\n<i>")
		b.WriteString(html.EscapeString(p.Footer))
		b.WriteString("</i>")
	}
	if p.ImageURL != "" {
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(p.ImageURL))
		b.WriteString(`">&#8203;</a>`)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PlainText renders p without markup (console output, logs).
func PlainText(p Payload) string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString(p.Title)
		b.WriteString("\n")
	}
	if p.Description != "" {
		b.WriteString(stripBold(p.Description))
		b.WriteString("\n")
	}
	for _, f := range p.Fields {
		b.WriteString("\n")
		b.WriteString(f.Name)
		b.WriteString("\n")
		b.WriteString(stripBold(f.Value))
		b.WriteString("\n")
	}
	if p.Footer != "" {
		b.WriteString("\n")
		b.WriteString(p.Footer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func inline(s string) string {
	return reBold.ReplaceAllString(html.EscapeString(s), "<b>$1</b>")
}

func stripBold(s string) string {
	return reBold.ReplaceAllString(s, "$1")
}
