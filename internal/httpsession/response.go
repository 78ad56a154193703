package httpsession

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// Response is written as one unit by the session. Content-Length is always
// derived from Body.
type Response struct {
	Status int
	Header Header
	Body   []byte
	// Close asks the session to close the connection after this response.
	Close bool

	major, minor int
	omitBody     bool
	written      int64
}

func NewResponse(status int) *Response {
	return &Response{Status: status, major: 1, minor: 1}
}

// Written is the number of bytes the response occupied on the wire, or 0
// if it was never sent.
func (r *Response) Written() int64 { return r.written }

// SetBody sets the body and its Content-Type.
func (r *Response) SetBody(contentType string, body []byte) {
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = body
}

// orderedHeaders are written first, in this order.
var orderedHeaders = []string{"Server", "Date", "Content-Type", "Content-Length", "Connection", "X-Request-Id"}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// WriteTo encodes the response and writes it with a single Write call.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	if r.Status < 100 || r.Status > 599 {
		return 0, diag.Newf(diag.ErrInvalidArgument, "status %d is out of range", r.Status)
	}
	major, minor := r.major, r.minor
	if major == 0 {
		major, minor = 1, 1
	}

	var b bytes.Buffer
	text := http.StatusText(r.Status)
	if text == "" {
		text = "Unknown"
	}
	fmt.Fprintf(&b, "HTTP/%d.%d %d %s\r\n", major, minor, r.Status, text)

	withLength := r.Status >= 200 && r.Status != http.StatusNoContent
	for _, name := range orderedHeaders {
		if name == "Content-Length" {
			if withLength {
				b.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
			}
			continue
		}
		for _, v := range r.Header.Values(name) {
			writeField(&b, name, v)
		}
	}
	r.Header.Each(func(name, value string) {
		for _, o := range orderedHeaders {
			if o == name {
				return
			}
		}
		writeField(&b, name, value)
	})
	b.WriteString("\r\n")

	if !r.omitBody && bodyAllowed(r.Status) {
		b.Write(r.Body)
	}

	n, err := w.Write(b.Bytes())
	return int64(n), err
}

// writeField drops values that would split the header block.
func writeField(b *bytes.Buffer, name, value string) {
	if strings.ContainsAny(value, "\r\n") {
		return
	}
	b.WriteString(name + ": " + value + "\r\n")
}
