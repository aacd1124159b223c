package httpconn

import (
	"net/url"
	"strings"
)

// JoinURL resolves action path against a connection base URL using RFC 3986
// reference resolution (url.URL.ResolveReference), so an absolute action
// path replaces the base's path entirely while a relative path appends to
// it. This is the detail original_source resolves via a dedicated URL
// builder rather than naive string concatenation.
func JoinURL(base, path string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if path == "" {
		return baseURL.String(), nil
	}

	refURL, err := url.Parse(path)
	if err != nil {
		return "", err
	}

	if !strings.HasSuffix(baseURL.Path, "/") && refURL.Path != "" && !strings.HasPrefix(refURL.Path, "/") {
		baseURL.Path += "/"
	}

	resolved := baseURL.ResolveReference(refURL)
	return resolved.String(), nil
}

// AppendQuery merges extra query parameters onto rawURL, preserving any
// parameters already present and appending (not replacing) repeated keys.
func AppendQuery(rawURL string, params map[string][]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, values := range params {
		for _, v := range values {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
