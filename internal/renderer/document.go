// Package renderer turns synthesized content into standalone HTML documents.
package renderer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

const baseStyle = `body{max-width:50rem;margin:2rem auto;padding:0 1rem;font-family:serif;line-height:1.5}
img{max-width:100%;height:auto;display:block;margin:1rem auto}
table{border-collapse:collapse}td,th{border:1px solid #999;padding:.25rem .5rem}`

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// Render converts body to a complete HTML document. Markdown is converted
// first; fragments get an html/head/body shell with a charset, a title and
// a default stylesheet. Existing documents keep their own head contents.
func Render(body, format, title string) (string, error) {
	switch format {
	case FormatMarkdown:
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(body), &buf); err != nil {
			return "", fmt.Errorf("convert markdown: %w", err)
		}
		body = buf.String()
	case FormatHTML, "":
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	head := doc.Find("head")
	if head.Find("meta[charset]").Length() == 0 {
		head.PrependHtml(`<meta charset="utf-8">`)
	}
	if strings.TrimSpace(head.Find("title").Text()) == "" {
		head.Find("title").Remove()
		head.AppendHtml("<title></title>")
		head.Find("title").SetText(title)
	}
	if head.Find("style, link[rel=stylesheet]").Length() == 0 {
		head.AppendHtml("<style>" + baseStyle + "</style>")
	}
	return serialize(doc)
}

func serialize(doc *goquery.Document) (string, error) {
	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(out)), "<!doctype") {
		out = "<!DOCTYPE html>\n" + out
	}
	return out + "\n", nil
}
