// Package normalizer flattens rendered HTML into compact annotated text for
// the extraction model. Structure that helps extraction survives as plain
// text: headings, paragraphs, lists, table rows, link targets, and blocks
// whose class or id hints at event details.
package normalizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	markupPattern     = regexp.MustCompile(`<(?:[a-zA-Z][a-zA-Z0-9-]*|/[a-zA-Z]|!)[^>]*>`)
	tagOpenPattern    = regexp.MustCompile(`<([a-zA-Z/!])`)
	whitespacePattern = regexp.MustCompile(`[ \t\r\n\f\v\x{00a0}]+`)
)

// skipped elements never carry readable content.
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"iframe": true, "template": true, "head": true, "canvas": true,
}

// paragraphs are separated from their neighbours by a blank line.
var paragraphs = map[string]bool{
	"p": true, "section": true, "article": true, "blockquote": true,
	"pre": true, "address": true, "figure": true,
}

// blocks start on a new line.
var blocks = map[string]bool{
	"div": true, "header": true, "footer": true, "main": true, "aside": true,
	"nav": true, "form": true, "dl": true, "dt": true, "dd": true,
	"fieldset": true, "details": true, "summary": true, "figcaption": true,
	"hr": true,
}

// hints are checked in order against lowercased class and id attributes.
var hints = []string{"event", "date", "time", "location"}

// Normalize converts raw HTML to annotated text. Input without markup is
// returned unchanged, so Normalize is idempotent on its own output. On any
// internal failure it returns the input and ok=false.
func Normalize(raw string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = raw, false
		}
	}()
	if !markupPattern.MatchString(raw) {
		return raw, true
	}
	out, err := convert(raw)
	if err != nil {
		return raw, false
	}
	return out, true
}

func convert(raw string) (string, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	start := doc.Find("body")
	if start.Length() == 0 {
		start = doc.Selection
	}
	w := &textWriter{}
	w.walkChildren(start.First())
	return escapeTagOpeners(w.String()), nil
}

// escapeTagOpeners re-encodes a decoded "<" that would read as markup, such
// as the text "&lt;table&gt;", so the output passes through unchanged.
func escapeTagOpeners(text string) string {
	return tagOpenPattern.ReplaceAllString(text, "&lt;$1")
}

type textWriter struct {
	lines []string
	line  strings.Builder
}

func (w *textWriter) raw(s string) {
	w.line.WriteString(s)
}

func (w *textWriter) flushLine() {
	text := strings.TrimSpace(whitespacePattern.ReplaceAllString(w.line.String(), " "))
	w.line.Reset()
	if text != "" {
		w.lines = append(w.lines, text)
	}
}

// blankLine separates blocks. A bare hint marker stays attached to the
// block that follows it.
func (w *textWriter) blankLine() {
	w.flushLine()
	if n := len(w.lines); n > 0 && w.lines[n-1] != "" && !isMarker(w.lines[n-1]) {
		w.lines = append(w.lines, "")
	}
}

func (w *textWriter) String() string {
	w.flushLine()
	return strings.TrimSpace(strings.Join(w.lines, "\n"))
}

// flat renders the children of s into a single line.
func (w *textWriter) flat(s *goquery.Selection) string {
	sub := &textWriter{}
	sub.walkChildren(s)
	return strings.Join(strings.Fields(sub.String()), " ")
}

func (w *textWriter) walkChildren(s *goquery.Selection) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		w.walk(c)
	})
}

func (w *textWriter) walk(s *goquery.Selection) {
	node := s.Get(0)
	switch node.Type {
	case html.TextNode:
		w.raw(node.Data)
		return
	case html.ElementNode:
	default:
		return
	}

	name := goquery.NodeName(s)
	if skipped[name] {
		return
	}
	if hint := eventHint(s); hint != "" && !isInlineFormatted(name) {
		w.hinted(s, hint)
		return
	}

	switch name {
	case "br":
		w.flushLine()
	case "h1", "h2", "h3", "h4", "h5", "h6":
		w.blankLine()
		w.raw(strings.Repeat("#", int(name[1]-'0')) + " ")
		w.walkChildren(s)
		w.blankLine()
	case "ul", "ol":
		w.list(s, name == "ol")
	case "li":
		w.flushLine()
		w.raw("* ")
		w.walkChildren(s)
		w.flushLine()
	case "table":
		w.table(s)
	case "a":
		w.anchor(s)
	case "time":
		w.timeElement(s)
	case "img":
		if alt := strings.TrimSpace(s.AttrOr("alt", "")); alt != "" {
			w.raw(" " + alt + " ")
		}
	default:
		switch {
		case paragraphs[name]:
			w.blankLine()
			w.walkChildren(s)
			w.blankLine()
		case blocks[name]:
			w.flushLine()
			w.walkChildren(s)
			w.flushLine()
		default:
			w.walkChildren(s)
		}
	}
}

// hinted renders an element whose class or id suggests event details as a
// labelled block.
func (w *textWriter) hinted(s *goquery.Selection, hint string) {
	container := hint == "event"
	if container {
		w.blankLine()
	} else {
		w.flushLine()
	}
	w.raw("[" + hint + "] ")
	w.walkChildren(s)
	if container {
		w.blankLine()
	} else {
		w.flushLine()
	}
}

func (w *textWriter) list(s *goquery.Selection, ordered bool) {
	w.blankLine()
	n := 0
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) != "li" {
			w.walk(c)
			return
		}
		n++
		w.flushLine()
		if ordered {
			w.raw(fmt.Sprintf("%d. ", n))
		} else {
			w.raw("* ")
		}
		w.walkChildren(c)
		w.flushLine()
	})
	w.blankLine()
}

func (w *textWriter) table(s *goquery.Selection) {
	w.blankLine()
	s.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if !row.Closest("table").IsSelection(s) {
			return
		}
		var cells []string
		row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
			if text := w.flat(cell); text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) > 0 {
			w.lines = append(w.lines, strings.Join(cells, " | "))
		}
	})
	w.blankLine()
}

// anchor renders links as "text [href]" so targets survive flattening.
func (w *textWriter) anchor(s *goquery.Selection) {
	text := w.flat(s)
	href := strings.TrimSpace(s.AttrOr("href", ""))
	lowered := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lowered, "javascript:") || strings.HasPrefix(lowered, "mailto:") {
		w.raw(" " + text + " ")
		return
	}
	switch {
	case text == "":
		w.raw(" [" + href + "] ")
	case strings.EqualFold(text, href):
		w.raw(" " + href + " ")
	default:
		w.raw(" " + text + " [" + href + "] ")
	}
}

func (w *textWriter) timeElement(s *goquery.Selection) {
	text := w.flat(s)
	stamp := strings.TrimSpace(s.AttrOr("datetime", ""))
	switch {
	case text == "" && stamp != "":
		w.raw(" " + stamp + " ")
	case stamp != "" && stamp != text:
		w.raw(" " + text + " (" + stamp + ") ")
	default:
		w.raw(" " + text + " ")
	}
}

func eventHint(s *goquery.Selection) string {
	attrs := strings.ToLower(s.AttrOr("class", "") + " " + s.AttrOr("id", ""))
	if strings.TrimSpace(attrs) == "" {
		return ""
	}
	for _, hint := range hints {
		if strings.Contains(attrs, hint) {
			return hint
		}
	}
	return ""
}

func isMarker(line string) bool {
	for _, hint := range hints {
		if line == "["+hint+"]" {
			return true
		}
	}
	return false
}

// isInlineFormatted lists elements whose own rendering wins over a hint.
func isInlineFormatted(name string) bool {
	switch name {
	case "a", "time", "br", "img", "table", "ul", "ol":
		return true
	default:
		return false
	}
}
