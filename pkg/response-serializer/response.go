package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"time"
)

// fetchedAtHeaderName carries the capture timestamp inside the stored
// response bytes. It is stripped again on decode.
const fetchedAtHeaderName = "Shellcache-Fetched-At"

// Encode converts a response to its stored byte representation.
// The representation is the HTTP/1.1 wire format of the response with the
// capture time embedded as a header. The response body is replaced with a
// fresh reader so the caller can still send it to the client.
func Encode(res *http.Response, fetchedAt time.Time) ([]byte, error) {
	res.Header.Set(fetchedAtHeaderName, strconv.FormatInt(fetchedAt.Unix(), 10))
	defer res.Header.Del(fetchedAtHeaderName)

	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	bts := buf.Bytes()

	// res.Write drains the body, set it back from the buffer
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body

	return bts, nil
}

// Decode converts stored bytes back to a response and its capture time.
func Decode(b []byte) (*http.Response, time.Time, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	var fetchedAt time.Time
	if ts, err := strconv.ParseInt(res.Header.Get(fetchedAtHeaderName), 10, 64); err == nil {
		fetchedAt = time.Unix(ts, 0)
	}
	res.Header.Del(fetchedAtHeaderName)
	return res, fetchedAt, nil
}
