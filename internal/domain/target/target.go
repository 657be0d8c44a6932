package target

import (
	"fmt"
	"net/url"
	"strings"

	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Target is a normalized endpoint URL. Targets are immutable values.
type Target struct {
	raw string
	url string
	u   url.URL
}

// Parse validates a target string and normalizes it.
// Accepted input needs at least a scheme and a host:
//   - http://example.com
//   - https://example.com:8443/app/?q=1
//
// The fragment is dropped, scheme and host are lowercased and an empty path
// becomes "/".
func Parse(raw string) (Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Target{}, fmt.Errorf("%w: empty", sharedErrors.ErrInvalidTarget)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidTarget, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" || parsed.Hostname() == "" {
		return Target{}, fmt.Errorf("%w: %q needs scheme and host", sharedErrors.ErrInvalidTarget, raw)
	}
	if parsed.Opaque != "" {
		return Target{}, fmt.Errorf("%w: %q", sharedErrors.ErrInvalidTarget, raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Path == "" {
		parsed.Path = "/"
		parsed.RawPath = ""
	}

	return Target{raw: trimmed, url: parsed.String(), u: *parsed}, nil
}

// MustParse is Parse for known-good literals; it panics on error.
func MustParse(raw string) Target {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the normalized URL.
func (t Target) String() string { return t.url }

// Original returns the input the target was parsed from.
func (t Target) Original() string { return t.raw }

// URL returns a copy of the parsed URL.
func (t Target) URL() *url.URL {
	u := t.u
	return &u
}

// Host returns host[:port].
func (t Target) Host() string { return t.u.Host }

// Hostname returns the host without port.
func (t Target) Hostname() string { return t.u.Hostname() }

// Scheme returns the lowercased scheme.
func (t Target) Scheme() string { return t.u.Scheme }

// Base returns scheme://host without path or query.
func (t Target) Base() string { return t.u.Scheme + "://" + t.u.Host }

// Resolve joins a POC-relative path (e.g. "/admin.php?id=1") onto the target.
// An absolute path replaces the target path; a relative one is appended.
func (t Target) Resolve(path string) (*url.URL, error) {
	if path == "" {
		return t.URL(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	base := t.URL()
	if !strings.HasPrefix(path, "/") && !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref), nil
}

// IsZero reports whether t was never parsed.
func (t Target) IsZero() bool { return t.url == "" }
