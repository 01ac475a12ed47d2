package httpserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/webdavd/webdavd/netbuf"
)

// Answer is the Go analogue of fl::http::HttpAnswer: a small builder that
// writes a status line, Content-Type, caller-supplied headers and a
// Connection header into a netbuf.Buffer, reserving a fixed ten-digit
// Content-Length placeholder that SetContentLength backfills once the
// body has been written. Every WebDAV response handler builds its answer
// through this type. Grounded on original_source/http_answer.{hpp,cpp}.
type Answer struct {
	buf             *netbuf.Buffer
	contentLengthAt int
	headersEnd      int
}

const contentLengthPlaceholder = "Content-Length: 0000000000\r\n\r\n"

// NewAnswer clears buf and writes the status line, Content-Type and
// Connection headers, plus the Content-Length placeholder.
func NewAnswer(buf *netbuf.Buffer, status, contentType string, keepAlive bool) *Answer {
	buf.Clear()
	buf.Append([]byte(status))
	buf.Append([]byte("Content-Type: " + contentType + "\r\n"))
	if keepAlive {
		buf.Append([]byte("Connection: Keep-Alive\r\n"))
	} else {
		buf.Append([]byte("Connection: Close\r\n"))
	}
	a := &Answer{buf: buf, contentLengthAt: buf.Len()}
	buf.Append([]byte(contentLengthPlaceholder))
	a.headersEnd = buf.Len()
	return a
}

// AddHeaders appends raw (one or more header lines, each CRLF-terminated,
// including the last) before the blank line separating headers from body.
func (a *Answer) AddHeaders(raw string) {
	a.buf.Truncate(a.buf.Len() - 2) // drop the trailing CRLF before the blank line
	a.buf.Append([]byte(raw))
	a.buf.Append([]byte("\r\n"))
	a.headersEnd = a.buf.Len()
}

// AddLastModified appends a Last-Modified header formatted per RFC 1123.
func (a *Answer) AddLastModified(unixTime int64) {
	a.buf.Truncate(a.buf.Len() - 2)
	a.buf.Append([]byte(FormatLastModified(unixTime)))
	a.buf.Append([]byte("\r\n"))
	a.headersEnd = a.buf.Len()
}

// Add appends raw body bytes after the headers.
func (a *Answer) Add(p []byte) { a.buf.Append(p) }

// AddString appends a body string after the headers.
func (a *Answer) AddString(s string) { a.buf.Append([]byte(s)) }

// SetContentLength back-fills the Content-Length placeholder with the
// number of body bytes written since the headers ended.
func (a *Answer) SetContentLength() {
	a.SetContentLengthValue(uint32(a.buf.Len() - a.headersEnd))
}

// SetContentLengthValue back-fills the placeholder with an explicit value,
// used by handlers that stream a body larger than what is currently in
// the buffer (e.g. a spilled-to-disk PUT echoed back).
func (a *Answer) SetContentLengthValue(n uint32) {
	b := a.buf.Bytes()
	digitsStart := a.contentLengthAt + len("Content-Length: ")
	digits := fmt.Sprintf("%010d", n)
	copy(b[digitsStart:digitsStart+10], digits)
}

// HeadersEnd reports the buffer offset just past the blank line
// separating headers from body.
func (a *Answer) HeadersEnd() int { return a.headersEnd }

// ParseKeepAlive recognises the Connection header, mirroring
// HttpEventInterface::_parseKeepAlive.
func ParseKeepAlive(name, value string) (recognised, keepAlive bool) {
	if !strings.EqualFold(name, "Connection") {
		return false, false
	}
	return true, strings.EqualFold(strings.TrimSpace(value), "keep-alive")
}

// ParseContentLength recognises the Content-Length header, mirroring
// HttpEventInterface::_parseContentLength.
func ParseContentLength(name, value string) (recognised bool, length int, err error) {
	if !strings.EqualFold(name, "Content-Length") {
		return false, 0, nil
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(value))
	if convErr != nil {
		return true, 0, convErr
	}
	return true, n, nil
}

// ParseHost recognises the Host header, mirroring
// HttpEventInterface::_parseHost.
func ParseHost(name, value string) (recognised bool, host string) {
	if !strings.EqualFold(name, "Host") {
		return false, ""
	}
	return true, strings.TrimSpace(value)
}

// IsCookieHeader reports whether name is the Cookie header, mirroring
// HttpEventInterface::_isCookieHeader.
func IsCookieHeader(name string) bool {
	return strings.EqualFold(name, "Cookie")
}

// ParseRangeHeader recognises the Range header and parses its value with
// ParseRange.
func ParseRangeHeader(name, value string) (recognised bool, r Range, err error) {
	if !strings.EqualFold(name, "Range") {
		return false, Range{}, nil
	}
	rr, parseErr := ParseRange(value)
	return true, rr, parseErr
}
