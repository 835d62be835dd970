package cachekey

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var ErrMethodNotSupported = errors.New("method not supported")

const methodSeparator = ":"

// Keyer derives canonical cache keys from requests.
// A key identifies a stored response by (method, URL); fragments are
// dropped and the query string is kept as-is.
type Keyer struct{}

func NewKeyer() Keyer {
	return Keyer{}
}

// Key returns the cache key for a request.
func (k Keyer) Key(r *http.Request) string {
	return k.KeyForURL(r.Method, r.URL)
}

// KeyForPath returns the cache key for a method and request path.
// The path may include a query string.
func (k Keyer) KeyForPath(method, path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return k.KeyForURL(method, u), nil
}

func (k Keyer) KeyForURL(method string, u *url.URL) string {
	uri := u.EscapedPath()
	if uri == "" {
		uri = "/"
	}
	if u.RawQuery != "" {
		uri += "?" + u.RawQuery
	}
	return method + methodSeparator + uri
}

// RequestFromKey generates a caching-wise equal request to the request that
// resulted in the provided key. Only GET keys can be replayed.
func (k Keyer) RequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, errors.New("malformed key: " + key)
	}
	if method != http.MethodGet {
		return nil, ErrMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
