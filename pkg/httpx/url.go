// Package httpx provides the URL-building helpers shared by the auth gateway
// and the API request pipeline. The clinic backend sits behind a single host
// with distinct path prefixes for the resource API and the auth endpoints, so
// every outbound URL funnels through BuildURL.
package httpx

import (
	"net/url"
	"regexp"
	"strings"
)

var absoluteURLPattern = regexp.MustCompile(`(?i)^https?://`)

// IsAbsoluteURL reports whether raw carries an explicit http or https scheme.
// Absolute paths bypass base/prefix resolution entirely.
func IsAbsoluteURL(raw string) bool {
	return absoluteURLPattern.MatchString(raw)
}

// SanitizeBaseURL trims surrounding whitespace and trailing slashes from a
// base URL. Both absolute URLs and bare path bases ("/clinic") are accepted.
func SanitizeBaseURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimRight(trimmed, "/")
}

// SanitizePrefix trims whitespace and surrounding slashes from a path prefix.
func SanitizePrefix(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.Trim(trimmed, "/")
}

// BuildURL resolves path against base and prefix.
//
// Rules, in order:
//   - an absolute path is returned untouched;
//   - the prefix is skipped when the path already starts with it, or when the
//     base URL's final path segment is the prefix (avoids "api/api/...");
//   - an empty base yields a root-relative URL.
func BuildURL(base, prefix, path string) string {
	if path != "" && IsAbsoluteURL(path) {
		return path
	}

	base = SanitizeBaseURL(base)
	prefix = SanitizePrefix(prefix)

	if path == "" {
		switch {
		case base == "" && prefix == "":
			return "/"
		case base == "":
			return "/" + prefix
		case IsAbsoluteURL(base) && prefix == "":
			return base
		case IsAbsoluteURL(base):
			return base + "/" + prefix
		}
		normalized := ensureLeadingSlash(base)
		if prefix == "" {
			return normalized
		}
		return normalized + "/" + prefix
	}

	cleaned := strings.TrimLeft(strings.TrimSpace(path), "/")

	var segments []string
	if shouldAddPrefix(cleaned, prefix, base) {
		segments = append(segments, prefix)
	}
	segments = append(segments, cleaned)
	suffix := strings.Join(segments, "/")

	switch {
	case base == "":
		return "/" + suffix
	case IsAbsoluteURL(base):
		return base + "/" + suffix
	}
	return collapseSlashes(ensureLeadingSlash(base) + "/" + suffix)
}

// shouldAddPrefix decides whether prefix must be injected between the base
// and the request path.
func shouldAddPrefix(path, prefix, base string) bool {
	if prefix == "" {
		return false
	}
	lowerPath := strings.ToLower(path)
	lowerPrefix := strings.ToLower(prefix)
	if lowerPath == "" || lowerPath == lowerPrefix || strings.HasPrefix(lowerPath, lowerPrefix+"/") {
		return false
	}
	segments := basePathSegments(base)
	if len(segments) > 0 && strings.EqualFold(segments[len(segments)-1], prefix) {
		return false
	}
	return true
}

// basePathSegments returns the path segments of the base URL, tolerating both
// absolute URLs and bare paths.
func basePathSegments(base string) []string {
	if base == "" {
		return nil
	}
	candidate := base
	if !IsAbsoluteURL(candidate) {
		candidate = "http://localhost/" + strings.TrimLeft(candidate, "/")
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return splitNonEmpty(base)
	}
	return splitNonEmpty(parsed.Path)
}

func splitNonEmpty(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}
