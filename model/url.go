package model

import (
	"net/url"
	"strings"
)

// URL is a runtime-validated absolute HTTP(S) URL. It replaces the loosely
// typed string value the external interfaces accept with an explicit value
// type: parsed once, normalized once, and passed around as a comparable,
// immutable value from then on.
type URL struct {
	canonical string
}

// ParseURL validates and normalizes a raw URL string. The scheme must be
// "http" or "https" and a host must be present. An empty path is normalized
// to "/" so that "https://example.com" and "https://example.com/" resolve
// to the same canonical key.
func ParseURL(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, NewKindError(ErrValidation, "url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, WrapKind(ErrValidation, err, "invalid url")
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return URL{}, NewKindError(ErrValidation, "url scheme must be http or https")
	}
	if u.Host == "" {
		return URL{}, NewKindError(ErrValidation, "url must include a host")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	return URL{canonical: u.String()}, nil
}

// String returns the canonical string form of the URL; used as the unique
// key in the document store.
func (u URL) String() string {
	return u.canonical
}

// IsZero reports whether the URL value was never successfully parsed.
func (u URL) IsZero() bool {
	return u.canonical == ""
}
