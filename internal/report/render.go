package report

import (
	"fmt"
	"html"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/domready/dom"
)

// Output formats.
const (
	FormatHTML      = "html"
	FormatText      = "text"
	FormatMarkdown  = "markdown"
	FormatSanitized = "sanitized"
)

// Renderer turns a ready element into report content.
type Renderer struct {
	format string
	ugc    *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewRenderer returns a Renderer for format.
func NewRenderer(format string) (*Renderer, error) {
	switch format {
	case FormatHTML, FormatText, FormatMarkdown, FormatSanitized:
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
	return &Renderer{
		format: format,
		ugc:    bluemonday.UGCPolicy(),
		strict: bluemonday.StrictPolicy(),
	}, nil
}

// Format returns the configured format.
func (r *Renderer) Format() string { return r.format }

// Render serialises el.
func (r *Renderer) Render(el dom.Element) (string, error) {
	raw, err := el.OuterHTML()
	if err != nil {
		return "", fmt.Errorf("report: outer html: %w", err)
	}
	return r.RenderHTML(raw)
}

// RenderHTML converts markup to the configured format.
func (r *Renderer) RenderHTML(raw string) (string, error) {
	switch r.format {
	case FormatText:
		text := html.UnescapeString(r.strict.Sanitize(raw))
		return strings.Join(strings.Fields(text), " "), nil
	case FormatMarkdown:
		md, err := htmltomarkdown.ConvertString(raw)
		if err != nil {
			return "", fmt.Errorf("report: markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	case FormatSanitized:
		return r.ugc.Sanitize(raw), nil
	default:
		return raw, nil
	}
}
