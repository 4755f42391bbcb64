// Package urlutil canonicalizes user supplied marketplace URLs.
package urlutil

import (
	"errors"
	"net/url"
	"strings"
)

var ErrInvalidURL = errors.New("invalid URL")

// Normalize returns raw as a fully qualified http(s) URL. Inputs that already
// carry an http:// or https:// prefix are returned unchanged (apart from
// surrounding whitespace); everything else gets https:// prepended.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidURL
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s, nil
	}
	return "https://" + s, nil
}

// Domain returns the host[:port] of raw, normalizing it first. It is the
// structure cache key.
func Domain(raw string) string {
	s, err := Normalize(raw)
	if err != nil {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Resolve makes href absolute against base. Unparseable input is returned as is.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return href
	}
	return b.ResolveReference(ref).String()
}

// Origin returns scheme://host of raw, or "" when it cannot be parsed.
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
