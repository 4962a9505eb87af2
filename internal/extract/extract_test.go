package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/domain"
	"vigil/internal/ports"
)

func TestTextNormalizeLowercasesAndStripsControls(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel: domain.ChannelSMS,
		Text:    "Send Your\x00 OTP\x07 Now",
	})
	require.NoError(t, err)
	assert.Equal(t, "send your otp now", c.Text)
	assert.Equal(t, "Send Your\x00 OTP\x07 Now", c.Original, "original kept for audit")
}

func TestTextNormalizeLowercasesSender(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel:  domain.ChannelSMS,
		Text:     "hello",
		Metadata: map[string]string{"sender": "VM-BANKOF"},
	})
	require.NoError(t, err)
	assert.Equal(t, "vm-bankof", c.Meta("sender"))
}

func TestTextNormalizeEmptyIsExtractionError(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{Channel: domain.ChannelCall, Text: "\x00\x01"})
	var xerr *domain.ExtractionError
	require.ErrorAs(t, err, &xerr)
	// the unit is still usable for zero-signal scoring
	assert.Equal(t, domain.ChannelCall, c.Channel)
}

func TestUnsupportedChannel(t *testing.T) {
	s := NewSet()
	_, err := s.Normalize(ports.RawContent{Channel: domain.Channel("fax"), Text: "x"})
	var xerr *domain.ExtractionError
	require.ErrorAs(t, err, &xerr)
}

func TestURLNormalizeIPLiteral(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel: domain.ChannelURL,
		Text:    "http://192.168.1.1/login-verify",
	})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", c.Meta("host"))
	assert.Equal(t, "/login-verify", c.Meta("path"))
	assert.Contains(t, c.Meta("host_flags"), FlagIPLiteral)
	assert.Contains(t, c.Meta("host_flags"), FlagNoTLS)
	assert.Equal(t, "192.168.1.1", c.Meta("domain"))
}

func TestURLNormalizePunycode(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel: domain.ChannelURL,
		Text:    "https://xn--pypal-4ve.com/secure",
	})
	require.NoError(t, err)
	assert.Contains(t, c.Meta("host_flags"), FlagPunycode)
	assert.NotContains(t, c.Meta("host_flags"), FlagNoTLS)
}

func TestURLNormalizeShortener(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel: domain.ChannelURL,
		Text:    "https://bit.ly/3xyz",
	})
	require.NoError(t, err)
	assert.Contains(t, c.Meta("host_flags"), FlagShortener)
}

func TestURLNormalizeRegistrableDomain(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel: domain.ChannelURL,
		Text:    "https://login.accounts.example.co.uk/verify",
	})
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", c.Meta("domain"))
	assert.Equal(t, "login.accounts.example.co.uk", c.Meta("host"))
}

func TestURLNormalizeBareHost(t *testing.T) {
	s := NewSet()
	c, err := s.Normalize(ports.RawContent{
		Channel: domain.ChannelURL,
		Text:    "example.com/login",
	})
	require.NoError(t, err)
	assert.Equal(t, "example.com", c.Meta("host"))
}

func TestURLNormalizeEmpty(t *testing.T) {
	s := NewSet()
	_, err := s.Normalize(ports.RawContent{Channel: domain.ChannelURL, Text: "   "})
	var xerr *domain.ExtractionError
	require.ErrorAs(t, err, &xerr)
}
