package shellcache

import (
	"net/http"
	"strings"
)

// Class is the request class selecting a retrieval strategy.
type Class int

const (
	// ClassBypass requests pass through to the origin untouched.
	ClassBypass Class = iota
	// ClassAPI requests carry live data and are served network-first.
	ClassAPI
	// ClassDocument requests are navigations to HTML pages, network-first
	// with the site shell as degraded fallback.
	ClassDocument
	// ClassAsset requests are static assets, served cache-first.
	ClassAsset
)

func (c Class) String() string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassDocument:
		return "document"
	case ClassAsset:
		return "asset"
	default:
		return "bypass"
	}
}

// Classify maps a request to its class. It is a pure function with no
// side effects, evaluated before any I/O, and total over all requests.
func (w *Worker) Classify(r *http.Request) Class {
	if r.Method != http.MethodGet {
		return ClassBypass
	}
	// extension and internal schemes are not ours to answer
	if s := r.URL.Scheme; s != "" && s != "http" && s != "https" {
		return ClassBypass
	}
	if strings.Contains(r.URL.Path, w.apiMarker) {
		return ClassAPI
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ClassDocument
	}
	return ClassAsset
}
