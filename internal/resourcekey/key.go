// Package resourcekey derives the canonical identity string for a piece of
// pipeline work. The key is the entire basis for deduplication: identical
// logical input must yield an identical key across calls and process
// restarts, so everything here is pure — no clock, no I/O, no randomness.
package resourcekey

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// hashLen is the number of URL-safe base64 characters kept from the SHA-256
// digest of a normalized URL. 16 characters carry 96 bits, plenty against
// accidental collision at this system's scale.
const hashLen = 16

var ErrEmptyInput = errors.New("resourcekey: no identifier, URL, or content id")

// trackingParams are query parameters stripped during URL normalization.
// They vary per click without changing the underlying resource.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"dclid":        true,
	"msclkid":      true,
	"mc_cid":       true,
	"mc_eid":       true,
	"igshid":       true,
	"ref":          true,
	"ref_src":      true,
	"si":           true,
}

// Input carries the raw identity material of a submission. Fields are
// consulted in order: external id, source URL, content id fallback.
type Input struct {
	// ExternalKind and ExternalID form a natural platform identity, e.g.
	// kind "yt" with a video id.
	ExternalKind string
	ExternalID   string

	// SourceURL is an arbitrary URL identifying the resource.
	SourceURL string

	// ContentID is the owning content record, used when nothing better
	// exists.
	ContentID uuid.UUID
}

// Derive computes the canonical resource key for an input.
func Derive(in Input) (string, error) {
	if in.ExternalKind != "" && in.ExternalID != "" {
		return FromExternalID(in.ExternalKind, in.ExternalID), nil
	}
	if in.SourceURL != "" {
		return FromURL(in.SourceURL)
	}
	if in.ContentID != uuid.Nil {
		return FromContentID(in.ContentID), nil
	}
	return "", ErrEmptyInput
}

// FromExternalID builds a key from a natural platform identifier.
func FromExternalID(kind, id string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(strings.TrimSpace(kind)), strings.TrimSpace(id))
}

// FromContentID is the fallback when neither an external id nor a URL is
// known.
func FromContentID(id uuid.UUID) string {
	return fmt.Sprintf("cid:%s", id)
}

// FromURL normalizes a URL and hashes it into a fixed-length key. URLs that
// carry a recognizable platform identity (currently YouTube) collapse to
// the same key as a direct external-id submission for that video.
func FromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" || u.Scheme == "" {
		return "", fmt.Errorf("url %q missing scheme or host", raw)
	}

	if id, ok := youtubeVideoID(u); ok {
		return FromExternalID("yt", id), nil
	}

	normalized := Normalize(u)
	sum := sha256.Sum256([]byte(normalized))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	return fmt.Sprintf("url:%s", encoded[:hashLen]), nil
}

// Normalize canonicalizes a parsed URL: lowercase scheme and host, default
// ports and fragment stripped, tracking parameters removed, remaining query
// parameters sorted, insecure scheme upgraded. The result is the exact
// string that gets hashed.
func Normalize(u *url.URL) string {
	c := *u

	c.Scheme = strings.ToLower(c.Scheme)
	if c.Scheme == "http" {
		c.Scheme = "https"
	}

	host := strings.ToLower(c.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	c.Host = host

	c.Fragment = ""

	q := c.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	c.RawQuery = encodeSorted(q)

	if c.Path != "/" {
		c.Path = strings.TrimSuffix(c.Path, "/")
	}

	return c.String()
}

// encodeSorted renders query parameters in deterministic key order, with
// repeated values for a key also sorted.
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// youtubeVideoID extracts a video id from the common YouTube URL shapes.
func youtubeVideoID(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if id != "" && !strings.Contains(id, "/") {
			return id, true
		}
	case "youtube.com":
		switch {
		case u.Path == "/watch":
			if id := u.Query().Get("v"); id != "" {
				return id, true
			}
		case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/live/"):
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 && parts[1] != "" {
				return parts[1], true
			}
		}
	}
	return "", false
}
