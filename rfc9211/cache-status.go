// Package rfc9211 implements the Cache-Status response header field.
// The RFC text is included alongside as commentary.
package rfc9211

import "fmt"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdMiss = "miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdStale = "stale"
)

// CacheStatus accumulates the handling of one request and renders the
// Cache-Status header value. The zero value is ready for use.
type CacheStatus struct {
	cacheName string
	status    Status
	fwdReason FwdReason
	detail    string
}

func NewCacheStatus(cacheName string) CacheStatus {
	return CacheStatus{cacheName: cacheName}
}

// Hit records that a stored response satisfied the request.
func (cs *CacheStatus) Hit() {
	cs.status = StatusHit
}

// Forward records that the request went (or would have gone) to the
// origin, with the reason why.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = StatusFwd
	cs.fwdReason = reason
}

// Detail attaches implementation-specific information, e.g. which
// fallback produced the response.
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cs.cacheName, cs.status)
	if cs.status == StatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
