package models

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

const entryTimeLayout = "15:04"

// RenderedEntry is an Entry converted to HTML for display.
type RenderedEntry struct {
	ID      string
	User    template.HTML
	Bot     template.HTML
	Time    string
	Pending bool
	Failed  bool
}

// Renderer converts transcript entries to HTML through markdown. Raw HTML in messages is not passed
// through, so user and model text cannot inject markup.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer with GitHub flavored markdown and code highlighting.
func NewRenderer() Renderer {
	return Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("github"),
				),
			),
		),
	}
}

// RenderTranscript renders every entry in order. Rendering the same transcript twice yields the same
// output.
func (r Renderer) RenderTranscript(t Transcript) ([]RenderedEntry, error) {
	out := make([]RenderedEntry, 0, len(t))
	for _, e := range t {
		re, err := r.RenderEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// RenderEntry renders the "You" and "Bot" lines of a single entry.
func (r Renderer) RenderEntry(e Entry) (RenderedEntry, error) {
	user, err := r.markdown("**You:** " + e.User)
	if err != nil {
		return RenderedEntry{}, fmt.Errorf("failed to render user message %s: %w", e.ID, err)
	}
	bot, err := r.markdown("**Bot:** " + e.Bot)
	if err != nil {
		return RenderedEntry{}, fmt.Errorf("failed to render bot message %s: %w", e.ID, err)
	}
	return RenderedEntry{
		ID:      e.ID,
		User:    user,
		Bot:     bot,
		Time:    e.Timestamp.Format(entryTimeLayout),
		Pending: e.Pending(),
		Failed:  e.Status == StatusFailed,
	}, nil
}

func (r Renderer) markdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark escapes text and omits raw HTML unless the unsafe renderer option is set.
	return template.HTML(buf.String()), nil
}
