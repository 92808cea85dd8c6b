package graph

import (
	"fmt"
	"net/url"
	"strings"
)

// tokenParams are the query parameters Graph uses for continuation and delta tokens.
var tokenParams = []string{"$skiptoken", "token", "$deltatoken"}

// ExtractToken pulls the opaque token out of an @odata.nextLink or @odata.deltaLink.
// Tokens never leave this package in link form.
func ExtractToken(link string) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", nil
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	query := parsed.Query()
	for _, param := range tokenParams {
		if v := query.Get(param); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("link carries no token parameter: %s", parsed.Path)
}

// joinURL joins the API base with a path.
func joinURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

// withQuery appends encoded query parameters to a URL.
func withQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + params.Encode()
}

// firstNonEmpty returns the first non-empty string from the provided values
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
