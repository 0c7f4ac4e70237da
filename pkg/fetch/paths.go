package fetch

import (
	"net/url"
	"strings"
)

// NormalizePath rewrites a corpus path into the form that is requested and
// recorded: a leading "./" becomes "/", and a missing leading slash is added.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "./") {
		p = "/" + strings.TrimPrefix(p, "./")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// NormalizePaths normalizes every path and drops duplicates, keeping the
// first occurrence.
func NormalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n := NormalizePath(p)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// requestURL joins the target's base path with a normalized corpus path.
// Escapes already present in the corpus path are sent unchanged. Credentials
// and fragments never end up in the request line.
func requestURL(target *url.URL, path string) string {
	u := *target
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	base := strings.TrimSuffix(target.Path, "/")
	rel, query, hasQuery := strings.Cut(path, "?")
	if unescaped, err := url.PathUnescape(rel); err == nil {
		u.Path = base + unescaped
		u.RawPath = strings.TrimSuffix(target.EscapedPath(), "/") + rel
	} else {
		u.Path = base + rel
		u.RawPath = ""
	}
	if hasQuery {
		u.RawQuery = query
	} else {
		u.RawQuery = ""
	}
	return u.String()
}
