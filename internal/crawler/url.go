package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// scopePrefix is the path every discovered page must live under. An explicit
// prefix wins; otherwise the root's directory is used, so /docs/ and
// /docs/index.html both scope to /docs/.
func scopePrefix(root *url.URL, explicit string) string {
	if explicit != "" {
		if !strings.HasPrefix(explicit, "/") {
			explicit = "/" + explicit
		}
		return explicit
	}
	p := root.Path
	switch {
	case p == "":
		return "/"
	case strings.HasSuffix(p, "/"):
		return p
	case strings.Contains(path.Base(p), "."):
		dir := path.Dir(p)
		if dir == "/" {
			return "/"
		}
		return dir + "/"
	default:
		return p
	}
}
