package httpsession

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/netsock"
)

// Request is one fully buffered HTTP request.
type Request struct {
	Method string
	URI    string
	Path   string
	Query  url.Values
	Major  int
	Minor  int
	Host   string
	Header Header
	// Body is backed by the session buffer and is only valid until the next
	// request on the same connection.
	Body []byte

	RemoteAddr string
	SessionID  string
	RequestID  string

	// Size is the number of bytes the request occupied on the wire.
	Size int64
}

// WantsKeepAlive reports whether the client asked for a persistent
// connection. HTTP/1.1 is persistent unless "Connection: close"; HTTP/1.0
// needs an explicit "Connection: keep-alive".
func (r *Request) WantsKeepAlive() bool {
	if r.Major == 1 && r.Minor >= 1 {
		return !r.Header.HasToken("Connection", "close")
	}
	return r.Header.HasToken("Connection", "keep-alive")
}

func (r *Request) Proto() string {
	return "HTTP/" + strconv.Itoa(r.Major) + "." + strconv.Itoa(r.Minor)
}

// readHead reads the request line and the header block. maxHeader bounds the
// total bytes of both.
func readHead(br *bufio.Reader, req *Request, maxHeader int) *diag.Error {
	budget := maxHeader

	var line []byte
	for len(line) == 0 {
		var derr *diag.Error
		if line, derr = readLine(br, &budget); derr != nil {
			return derr
		}
	}
	if derr := parseRequestLine(string(line), req); derr != nil {
		return derr
	}

	for {
		line, derr := readLine(br, &budget)
		if derr != nil {
			return derr
		}
		if len(line) == 0 {
			break
		}
		parseHeaderLine(line, &req.Header)
	}

	if req.Host == "" {
		req.Host = req.Header.Get("Host")
	}
	req.Size = int64(maxHeader - budget)
	return nil
}

// readLine returns one line without its CRLF. The returned slice is owned by
// the caller.
func readLine(br *bufio.Reader, budget *int) ([]byte, *diag.Error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		*budget -= len(frag)
		if *budget < 0 {
			return nil, diag.Newf(diag.ErrNetMsgTooBig, "request header block too large")
		}
		line = append(line, frag...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, readError(err)
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

func readError(err error) *diag.Error {
	var derr *diag.Error
	if errors.As(err, &derr) {
		return derr
	}
	return netsock.MapError(err)
}

func parseRequestLine(line string, req *Request) *diag.Error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[1] == "" {
		return diag.Newf(diag.ErrNetInvalidPackage, "malformed request line %q", line)
	}
	method, uri, version := parts[0], parts[1], parts[2]
	if !isToken(method) {
		return diag.Newf(diag.ErrNetInvalidPackage, "invalid method %q", method)
	}

	major, minor, ok := parseVersion(version)
	if !ok {
		return diag.Newf(diag.ErrNetInvalidPackage, "invalid protocol version %q", version)
	}
	if major != 1 {
		return diag.Newf(diag.ErrNotImplemented, "protocol %s is not supported", version)
	}

	path, rawQuery, _ := strings.Cut(uri, "?")
	if !strings.HasPrefix(uri, "/") {
		u, err := url.ParseRequestURI(uri)
		if err != nil || !u.IsAbs() {
			return diag.Newf(diag.ErrNetInvalidPackage, "invalid request target %q", uri)
		}
		path, rawQuery, req.Host = u.EscapedPath(), u.RawQuery, u.Host
		if path == "" {
			path = "/"
		}
	}

	// a malformed pair is dropped, the rest is kept
	query, _ := url.ParseQuery(rawQuery)

	req.Method = method
	req.URI = uri
	req.Path = path
	req.Query = query
	req.Major, req.Minor = major, minor
	return nil
}

func parseVersion(v string) (major, minor int, ok bool) {
	rest, found := strings.CutPrefix(v, "HTTP/")
	if !found {
		return 0, 0, false
	}
	maj, mnr, found := strings.Cut(rest, ".")
	if !found || !isDigits(maj) || !isDigits(mnr) || len(maj) > 3 || len(mnr) > 3 {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(maj)
	minor, _ = strconv.Atoi(mnr)
	return major, minor, true
}

// parseHeaderLine adds one header field. Lines that are not a well formed
// field (continuations, no colon, bad name, NUL in value) are skipped.
func parseHeaderLine(line []byte, h *Header) {
	if line[0] == ' ' || line[0] == '\t' {
		return
	}
	name, value, ok := bytes.Cut(line, []byte(":"))
	if !ok || !isToken(string(name)) {
		return
	}
	if bytes.IndexByte(value, 0) >= 0 {
		return
	}
	h.Add(string(name), string(bytes.Trim(value, " \t")))
}

// bodyLength validates the framing headers and returns the body size.
func bodyLength(h *Header, maxBody int) (int, *diag.Error) {
	if h.Has("Transfer-Encoding") {
		return 0, diag.Newf(diag.ErrNotImplemented, "transfer encoding %q is not supported", h.Get("Transfer-Encoding"))
	}

	values := h.Values("Content-Length")
	if len(values) == 0 {
		return 0, nil
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return 0, diag.Newf(diag.ErrNetInvalidPackage, "conflicting Content-Length values")
		}
	}
	if !isDigits(values[0]) {
		return 0, diag.Newf(diag.ErrNetInvalidPackage, "invalid Content-Length %q", values[0])
	}
	n, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return 0, diag.Newf(diag.ErrNetInvalidPackage, "invalid Content-Length %q", values[0])
	}
	if n > int64(maxBody) {
		return 0, diag.Newf(diag.ErrNetEntityTooLarge, "body of %d bytes exceeds the %d byte limit", n, maxBody)
	}
	size, err := safecast.Conv[int](n)
	if err != nil {
		return 0, diag.Newf(diag.ErrNetEntityTooLarge, "body of %d bytes exceeds the %d byte limit", n, maxBody)
	}
	return size, nil
}

// readBody fills dst completely from br.
func readBody(br *bufio.Reader, dst []byte) *diag.Error {
	if _, err := io.ReadFull(br, dst); err != nil {
		return readError(err).Addf("read body of %d bytes", len(dst))
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
