package serializer

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func readResponse(t *testing.T, raw string) *http.Response {
	t.Helper()
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestEncodeKeepsBodyReadable(t *testing.T) {
	res := readResponse(t, "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body")

	if _, err := Encode(res, time.Now()); err != nil {
		t.Fatal(err)
	}

	// encoding drains the body; the caller must still be able to send it
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "This is the body" {
		t.Fatalf("Body after encode is %q", body)
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	res := readResponse(t, "HTTP/1.1 201 Created\r\nContent-Type: text/html\r\nContent-Length: 5\r\n\r\nshell")
	fetchedAt := time.Now().Add(-time.Minute)

	bts, err := Encode(res, fetchedAt)
	if err != nil {
		t.Fatal(err)
	}

	got, gotTime, err := Decode(bts)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusCode != 201 {
		t.Fatalf("Status is %d", got.StatusCode)
	}
	if got.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("Headers are %+v", got.Header)
	}
	if gotTime.Unix() != fetchedAt.Unix() {
		t.Fatalf("Fetched-at is %v, stored %v", gotTime, fetchedAt)
	}
	body, err := io.ReadAll(got.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "shell" {
		t.Fatalf("Body is %q", body)
	}
}

func TestTimestampHeaderDoesNotLeak(t *testing.T) {
	res := readResponse(t, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")

	bts, err := Encode(res, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Header.Get(fetchedAtHeaderName) != "" {
		t.Fatal("Timestamp header left on the live response")
	}

	got, _, err := Decode(bts)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Get(fetchedAtHeaderName) != "" {
		t.Fatal("Timestamp header left on the decoded response")
	}
}
