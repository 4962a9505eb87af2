// Package extract turns raw channel submissions into normalized Content
// units. Extraction failures are non-fatal: callers degrade the unit to zero
// signal so session sequences stay complete.
package extract

import (
	"strings"
	"time"
	"unicode"

	"vigil/internal/domain"
	"vigil/internal/ports"
)

// Normalizer adapts one channel's raw input.
type Normalizer interface {
	Channel() domain.Channel
	Normalize(raw ports.RawContent) (domain.Content, error)
}

// Set routes raw content to the right channel adapter.
type Set struct {
	byChannel map[domain.Channel]Normalizer
}

// NewSet wires the default adapter per channel.
func NewSet() *Set {
	s := &Set{byChannel: map[domain.Channel]Normalizer{}}
	for _, n := range []Normalizer{
		textNormalizer{ch: domain.ChannelCall},
		textNormalizer{ch: domain.ChannelSMS},
		textNormalizer{ch: domain.ChannelEmail},
		textNormalizer{ch: domain.ChannelFeed},
		urlNormalizer{},
	} {
		s.byChannel[n.Channel()] = n
	}
	return s
}

// Normalize dispatches to the channel adapter.
func (s *Set) Normalize(raw ports.RawContent) (domain.Content, error) {
	n, ok := s.byChannel[raw.Channel]
	if !ok {
		return base(raw), &domain.ExtractionError{Channel: raw.Channel, Reason: "unsupported channel"}
	}
	return n.Normalize(raw)
}

func base(raw ports.RawContent) domain.Content {
	md := make(map[string]string, len(raw.Metadata))
	for k, v := range raw.Metadata {
		md[k] = v
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return domain.Content{
		Channel:   raw.Channel,
		SessionID: raw.SessionID,
		Sequence:  raw.Sequence,
		Original:  raw.Text,
		Language:  strings.ToLower(raw.Language),
		Region:    strings.ToLower(raw.Region),
		Metadata:  md,
		Timestamp: ts,
	}
}

// cleanText lowercases and strips control characters, keeping the original
// for audit.
func cleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// textNormalizer handles call transcripts, SMS bodies, email bodies and feed
// indicator lines.
type textNormalizer struct {
	ch domain.Channel
}

func (t textNormalizer) Channel() domain.Channel { return t.ch }

func (t textNormalizer) Normalize(raw ports.RawContent) (domain.Content, error) {
	c := base(raw)
	c.Text = cleanText(raw.Text)
	if sender := c.Meta("sender"); sender != "" {
		c.Metadata["sender"] = strings.ToLower(sender)
	}
	if c.Text == "" {
		return c, &domain.ExtractionError{Channel: raw.Channel, Reason: "empty text after normalization"}
	}
	return c, nil
}
