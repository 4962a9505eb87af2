package extract

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"vigil/internal/domain"
	"vigil/internal/ports"
)

// Host flags surfaced as metadata for sender-pattern signatures.
const (
	FlagIPLiteral = "ip-literal"
	FlagPunycode  = "punycode"
	FlagShortener = "shortener"
	FlagNoTLS     = "no-tls"
)

// Known link shorteners. A match here is a signal, not a verdict.
var shortenerHosts = map[string]struct{}{
	"bit.ly":       {},
	"tinyurl.com":  {},
	"t.co":         {},
	"goo.gl":       {},
	"is.gd":        {},
	"cutt.ly":      {},
	"rb.gy":        {},
	"rebrand.ly":   {},
	"shorturl.at":  {},
	"tiny.cc":      {},
}

type urlNormalizer struct{}

func (urlNormalizer) Channel() domain.Channel { return domain.ChannelURL }

// Normalize parses scheme, host and path and flags IP-literal, punycode and
// shortener hosts. The flags land in metadata consumed by sender-pattern
// signatures.
func (urlNormalizer) Normalize(raw ports.RawContent) (domain.Content, error) {
	c := base(raw)
	trimmed := strings.TrimSpace(raw.Text)
	c.Text = strings.ToLower(trimmed)
	if trimmed == "" {
		return c, &domain.ExtractionError{Channel: domain.ChannelURL, Reason: "empty url"}
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		// bare hosts like "example.com/login" parse with an empty Host
		u, err = url.Parse("http://" + trimmed)
	}
	if err != nil || u.Hostname() == "" {
		return c, &domain.ExtractionError{Channel: domain.ChannelURL, Reason: "unparseable url", Cause: err}
	}

	host := strings.ToLower(u.Hostname())
	c.Metadata["scheme"] = u.Scheme
	c.Metadata["host"] = host
	c.Metadata["path"] = u.Path

	var flags []string
	if net.ParseIP(host) != nil {
		flags = append(flags, FlagIPLiteral)
	}
	if strings.Contains(host, "xn--") {
		flags = append(flags, FlagPunycode)
	}
	if _, ok := shortenerHosts[host]; ok {
		flags = append(flags, FlagShortener)
	}
	if u.Scheme == "http" {
		flags = append(flags, FlagNoTLS)
	}
	if len(flags) > 0 {
		c.Metadata["host_flags"] = strings.Join(flags, ",")
	}

	if net.ParseIP(host) == nil {
		if registrable, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			c.Metadata["domain"] = registrable
		} else {
			c.Metadata["domain"] = host
		}
	} else {
		c.Metadata["domain"] = host
	}
	return c, nil
}
