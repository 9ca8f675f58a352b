package notify

import (
	"bytes"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Message is the rendered announcement, prepared once and handed to every
// channel. Channels pick the representation they can carry.
type Message struct {
	Subject string
	Text    string // plain text with the markdown notes as-is
	HTML    string // notes rendered to HTML for HTML-capable channels
	Tag     string
	Version string
	URL     string // release page / manifest download base
}

var notesRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderMessage builds the announcement for a release. Release notes are
// treated as markdown: kept verbatim for text channels, rendered through
// goldmark for HTML ones.
func RenderMessage(product string, rel release.Context, releaseURL string) (Message, error) {
	subject := fmt.Sprintf("%s %s released", product, rel.Tag)
	if rel.Channel == release.ChannelNightly {
		subject = fmt.Sprintf("%s nightly build %s", product, rel.Tag)
	}

	var text strings.Builder
	text.WriteString(subject)
	if rel.Notes != "" {
		text.WriteString("\n\n")
		text.WriteString(strings.TrimSpace(rel.Notes))
	}
	if releaseURL != "" {
		text.WriteString("\n\n")
		text.WriteString(releaseURL)
	}

	var html bytes.Buffer
	if err := notesRenderer.Convert([]byte(rel.Notes), &html); err != nil {
		return Message{}, fmt.Errorf("render release notes: %w", err)
	}

	return Message{
		Subject: subject,
		Text:    text.String(),
		HTML:    fmt.Sprintf("<h2>%s</h2>\n%s", subject, html.String()),
		Tag:     rel.Tag,
		Version: rel.Version(),
		URL:     releaseURL,
	}, nil
}
