package httpserver

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/webdavd/webdavd/clock"
	"github.com/webdavd/webdavd/internal/logging"
	"github.com/webdavd/webdavd/netbuf"
	"github.com/webdavd/webdavd/reactor"
)

var httpLog = logging.NewTag("httpserver.conn")

// crlfPattern is the four-character header terminator the request scanner
// hunts for, mirroring HttpEvent::_terminatingCharacters.
var crlfPattern = [4]byte{'\r', '\n', '\r', '\n'}

// minRequestLine is the shortest possible request line plus terminator,
// mirroring HttpEvent::_readRequest's MIN_HTTP_REQUEST guard: a request
// whose header block is complete in fewer bytes than this is rejected.
const minRequestLine = len("GET / HTTP/1.0\r\n\r\n")

// Conn is a reactor.Event driving one HTTP connection's state machine. It
// embeds reactor.Base so it satisfies reactor.Deadliner and can live in a
// Worker's Event Timeout List. Grounded on
// original_source/http_event.{hpp,cpp}'s HttpEvent.
type Conn struct {
	reactor.Base

	handler Handler
	buf     *netbuf.Buffer

	headerStart int
	phase       int
	state       State
	chunkNumber uint8
	partial     bool
	sweepGrace  bool
}

// NewConn constructs a Conn for a freshly accepted, non-blocking
// descriptor. deadline is the initial ETL deadline (ordinarily now plus
// the first-request timeout); the buffer pool and tunables are fetched
// lazily from the owning Worker's Scratch once this Conn is handed off,
// mirroring HttpEvent fetching HttpThreadSpecificData from its thread at
// the point it first needs a buffer.
func NewConn(fd int, deadline int64, handler Handler) *Conn {
	c := &Conn{
		Base:    reactor.NewBase(fd, reactor.Readable, deadline),
		handler: handler,
		state:   StateWaitRequest,
	}
	return c
}

// scratch resolves this Conn's owning Worker's HTTP Scratch. It must only
// be called once the Worker has accepted this Conn (i.e. from within
// Call, never before).
func (c *Conn) scratch() *Scratch {
	return c.Worker().Scratch().(*Scratch)
}

// Call advances the connection's state machine, mirroring
// HttpEvent::call.
func (c *Conn) Call(ev reactor.Events) reactor.CallResult {
	if c.state == StateFinished {
		return reactor.Finished
	}
	if ev&(reactor.HangUp|reactor.ErrorEvent) != 0 {
		c.endWork()
		return reactor.Finished
	}

	if ev&reactor.Readable != 0 {
		ok := true
		switch c.state {
		case StateWaitRequest:
			ok = c.readRequest()
		case StateWaitAdditionalData:
			ok = c.readPostData()
		}
		if !ok {
			return c.sendError()
		}
		if c.state == StateRequestReceived {
			return c.formAnswer()
		}
		if c.state == StateWaitRequest || c.state == StateWaitAdditionalData {
			c.SetDeadline(clock.Now() + c.scratch().Config.OperationTimeout)
			return reactor.Change
		}
		return reactor.Skip
	}

	if ev&reactor.Writable != 0 {
		if c.state == StateSend || c.state == StateSendAndClose {
			return c.sendAnswer()
		}
		httpLog.Error("writable event in unexpected state", "state", c.state)
		return reactor.Finished
	}
	return reactor.Skip
}

// IsFinished reports whether the ETL sweep may retire this connection once
// its deadline has passed. A connection suspended on a collaborating
// subsystem (StateWaitExternal) gets one grace tick before being forced
// closed, matching spec.md §4.2's "ask is_finished() — on the first
// positive answer unlink and destroy, else leave it one more tick."
func (c *Conn) IsFinished() bool {
	if c.state != StateWaitExternal {
		return true
	}
	if c.sweepGrace {
		return true
	}
	c.sweepGrace = true
	return false
}

// Close tears the connection down; it satisfies the optional interface
// reactor.Worker.Close looks for during shutdown.
func (c *Conn) Close() error {
	c.endWork()
	return nil
}

func (c *Conn) endWork() {
	if c.state == StateFinished {
		return
	}
	c.state = StateFinished
	if c.buf != nil {
		if w := c.Worker(); w != nil {
			w.Scratch().(*Scratch).Pool.Put(c.buf)
		}
		c.buf = nil
	}
	_ = unix.Close(c.Descriptor())
}

// readRequest performs one recv and advances the request-line/header
// scanner, mirroring HttpEvent::_readRequest.
func (c *Conn) readRequest() bool {
	sc := c.scratch()
	if c.buf == nil {
		c.buf = sc.Pool.Get()
	}
	lastChecked := c.buf.Len()
	res, err := c.buf.Read(c.Descriptor())
	if err != nil {
		httpLog.Error("recv failed", "fd", c.Descriptor(), "err", err)
	}
	switch res {
	case netbuf.ErrorResult, netbuf.ConnectionClose:
		return false
	case netbuf.InProgress:
		return true
	}

	c.chunkNumber++
	if c.chunkNumber > sc.Config.MaxChunkCount {
		httpLog.Error("too many chunks received during a request", "fd", c.Descriptor(), "chunks", c.chunkNumber)
		return false
	}
	if c.state == StateWaitRequest && c.buf.Len() > sc.Config.MaxRequestSize {
		httpLog.Error("max request size exceeded", "fd", c.Descriptor(), "size", c.buf.Len())
		return false
	}
	found, ok := c.scanTerminator(lastChecked)
	if !ok {
		return false
	}
	if !found {
		return true
	}
	if c.buf.Len() < minRequestLine {
		httpLog.Error("request shorter than the minimal request", "fd", c.Descriptor(), "size", c.buf.Len())
		return false
	}
	return c.dispatchBody()
}

// readPostData is the WAIT_ADDITIONAL_DATA-state counterpart: the headers
// are already parsed, only the body needs more bytes, mirroring
// HttpEvent::_readPostData.
func (c *Conn) readPostData() bool {
	res, err := c.buf.Read(c.Descriptor())
	if err != nil {
		httpLog.Error("recv failed", "fd", c.Descriptor(), "err", err)
	}
	switch res {
	case netbuf.ErrorResult, netbuf.ConnectionClose:
		return false
	case netbuf.InProgress:
		return true
	}
	enough, parseErr := c.handler.ParsePost(c.headerStart, c.buf.Bytes())
	if parseErr {
		return false
	}
	if enough {
		c.state = StateRequestReceived
	}
	return true
}

// scanTerminator resumes the four-character CRLFCRLF scan from
// lastChecked (the buffer length before this read), carrying the scan
// phase across calls in c.phase exactly as HttpEvent carries
// _endCharacterNumber. Every '\r\n' ends a line; only the first one (phase
// reaching 1, i.e. not itself immediately following another '\r\n') is
// dispatched as a request/header line — the second, phase reaching 3, is
// the blank line that terminates the header block and carries no content
// of its own, so it is never handed to parseRequestLine/parseHeaderLine.
// headerStart still advances across it, landing on the first body byte.
// The first result is true iff the full terminator was found in this pass;
// the second is false if the handler rejected the request line or a header
// line, in which case scanning stops there.
func (c *Conn) scanTerminator(lastChecked int) (bool, bool) {
	data := c.buf.Bytes()
	i := lastChecked
	for ; i < len(data); i++ {
		want := crlfPattern[c.phase]
		if data[i] == want {
			if want == '\n' {
				if c.phase == 1 {
					endLine := i - 1 // trim the \r
					var ok bool
					if c.headerStart == 0 {
						ok = c.parseRequestLine(data[:endLine])
					} else {
						ok = c.parseHeaderLine(data[c.headerStart:endLine])
					}
					if !ok {
						return false, false
					}
				}
				c.headerStart = i + 1
			}
			c.phase++
			if c.phase >= len(crlfPattern) {
				break
			}
		} else if c.phase != 0 {
			c.phase = 0
		}
	}
	return c.phase >= len(crlfPattern), true
}

// dispatchBody is reached once the header terminator has been found: it
// resets the scan phase, hands the body-so-far to ParsePost, and settles
// the state on REQUEST_RECEIVED or WAIT_ADDITIONAL_DATA.
func (c *Conn) dispatchBody() bool {
	c.phase = 0
	enough, parseErr := c.handler.ParsePost(c.headerStart, c.buf.Bytes())
	if parseErr {
		return false
	}
	if enough {
		c.state = StateRequestReceived
	} else {
		c.state = StateWaitAdditionalData
	}
	return true
}

var verbPrefixes = [...]struct {
	prefix []byte
	verb   Verb
}{
	{[]byte("OPTIONS "), VerbOPTIONS},
	{[]byte("PROPFIND "), VerbPROPFIND},
	{[]byte("DELETE "), VerbDELETE},
	{[]byte("MKCOL "), VerbMKCOL},
	{[]byte("GET "), VerbGET},
	{[]byte("POST "), VerbPOST},
	{[]byte("HEAD "), VerbHEAD},
	{[]byte("PUT "), VerbPUT},
}

// splitVerb recognises one of the fixed verb prefixes at the start of the
// request line, mirroring HttpEvent::_parseURI's first-character dispatch
// generalised to the full WebDAV verb set.
func splitVerb(line []byte) (Verb, []byte, bool) {
	for _, vp := range verbPrefixes {
		if bytes.HasPrefix(line, vp.prefix) {
			return vp.verb, line[len(vp.prefix):], true
		}
	}
	return VerbUnknown, nil, false
}

// parseRequestLine splits line ("VERB url HTTP/x.x") and calls through to
// the handler's ParseURI, mirroring HttpEvent::_parseURI.
func (c *Conn) parseRequestLine(line []byte) bool {
	verb, rest, ok := splitVerb(line)
	if !ok {
		httpLog.Error("unrecognised request verb", "line", string(line))
		return false
	}
	sp := bytes.LastIndexByte(rest, ' ')
	if sp < 0 {
		httpLog.Error("malformed request line", "line", string(line))
		return false
	}
	url := rest[:sp]
	if len(url) == 0 {
		httpLog.Error("empty URL in request line")
		return false
	}
	version := parseVersion(rest[sp+1:])
	host, fileName, query := parseURL(url)
	return c.handler.ParseURI(verb, version, host, fileName, query)
}

func parseVersion(v []byte) Version {
	if bytes.Equal(v, []byte("HTTP/1.1")) {
		return HTTP11
	}
	return HTTP10
}

// parseURL splits a request-target into an optional host (present only
// when the client sent an absolute-URI with a scheme), a file-name and an
// optional query string, mirroring HttpEvent::_parseURI's scheme/host/port
// skip loop. The core does not split query into key/value pairs; that is
// left to the handler, per spec.md §4.5.
func parseURL(url []byte) (host, fileName, query string) {
	rest := url
	hadScheme := false
	switch {
	case hasPrefixFold(rest, "http://"):
		rest = rest[len("http://"):]
		hadScheme = true
	case hasPrefixFold(rest, "https://"):
		rest = rest[len("https://"):]
		hadScheme = true
	}
	if hadScheme {
		i := 0
		for i < len(rest) {
			if rest[i] == '/' || rest[i] == ':' {
				host = string(rest[:i])
				if rest[i] == ':' {
					for i < len(rest) && rest[i] != '/' {
						i++
					}
				}
				break
			}
			i++
		}
		rest = rest[i:]
	}
	if q := bytes.IndexByte(rest, '?'); q >= 0 {
		fileName = string(rest[:q])
		query = string(rest[q+1:])
	} else {
		fileName = string(rest)
	}
	return host, fileName, query
}

func hasPrefixFold(b []byte, prefix string) bool {
	if len(b) < len(prefix) {
		return false
	}
	return bytes.EqualFold(b[:len(prefix)], []byte(prefix))
}

// parseHeaderLine splits one header line on its first colon and hands
// name/value to the handler, mirroring HttpEvent::_parseHeader.
func (c *Conn) parseHeaderLine(line []byte) bool {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		httpLog.Error("malformed header line", "line", string(line))
		return false
	}
	name := line[:idx]
	value := line[idx+1:]
	for len(value) > 0 && (value[0] == ' ' || value[0] == '\t') {
		value = value[1:]
	}
	if len(value) == 0 {
		return true
	}
	return c.handler.ParseHeader(string(name), string(value))
}

// formAnswer calls the handler's FormResult now that the request is fully
// received and dispatches the result, mirroring the RESULT_OK_* handling
// spec.md §4.5 describes (the corresponding call site is not shown intact
// in original_source/http_event.cpp — see DESIGN.md).
func (c *Conn) formAnswer() reactor.CallResult {
	sc := c.scratch()
	if c.buf == nil {
		c.buf = sc.Pool.Get()
	}
	return c.handleFormResult(c.handler.FormResult(c.buf, c))
}

// handleFormResult maps a FormResult to the engine's state transition and
// attempts the first send immediately, mirroring HttpEvent::_sendAnswer
// being driven right after a result is formed rather than waiting for a
// separate writability notification.
func (c *Conn) handleFormResult(result FormResult) reactor.CallResult {
	switch result {
	case ResultOKClose:
		c.state = StateSendAndClose
	case ResultOKKeepAlive:
		c.state = StateSend
	case ResultOKPartialSend:
		c.state = StateSend
		c.partial = true
	case ResultOKWait:
		c.state = StateWaitExternal
		return reactor.Skip
	default:
		return c.sendError()
	}
	return c.sendAnswer()
}

// sendAnswer drains the response buffer, mirroring HttpEvent::_sendAnswer.
func (c *Conn) sendAnswer() reactor.CallResult {
	res, err := c.buf.Send(c.Descriptor())
	if err != nil {
		httpLog.Error("send failed", "fd", c.Descriptor(), "err", err)
	}
	switch res {
	case netbuf.InProgress:
		c.SetWaitSend()
		c.SetDeadline(clock.Now() + c.scratch().Config.OperationTimeout)
		if w := c.Worker(); w == nil || !w.Ctrl(c) {
			c.endWork()
			return reactor.Finished
		}
		return reactor.Change
	case netbuf.ErrorResult:
		c.endWork()
		return reactor.Finished
	}

	if c.partial {
		c.partial = false
		return c.handleFormResult(c.handler.GetMoreData(c.buf, c))
	}
	if c.state == StateSendAndClose {
		c.endWork()
		return reactor.Finished
	}
	if c.resetForKeepAlive() {
		c.SetWaitRead()
		if w := c.Worker(); w == nil || !w.Ctrl(c) {
			c.endWork()
			return reactor.Finished
		}
		return reactor.Change
	}
	c.endWork()
	return reactor.Finished
}

// sendError asks the handler for a protocol-specific error body and, if it
// declines, emits the hard-coded 400 response, mirroring
// HttpEvent::_sendError.
func (c *Conn) sendError() reactor.CallResult {
	sc := c.scratch()
	if c.buf == nil {
		c.buf = sc.Pool.Get()
	}
	c.buf.Clear()
	if !c.handler.FormError(c.state, c.buf) {
		c.buf.Append([]byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n"))
	}
	c.state = StateSendAndClose
	return c.sendAnswer()
}

// resetForKeepAlive asks the handler to reset and, if it agrees to reuse
// the connection, rewinds the request scanner state, mirroring the spec's
// "on keep-alive, after a successful send the engine resets the handler
// and its own state, rewinds the buffer, and re-enters WAIT_REQUEST" —
// treated as required behavior per the Open Question in spec.md §9 (the
// original's equivalent path is commented out).
func (c *Conn) resetForKeepAlive() bool {
	if !c.handler.Reset() {
		return false
	}
	c.buf.Clear()
	c.headerStart = 0
	c.phase = 0
	c.chunkNumber = 0
	c.partial = false
	c.state = StateWaitRequest
	c.SetDeadline(clock.Now() + c.scratch().Config.KeepAliveTimeout)
	return true
}

// SendAnswer resumes a connection suspended in StateWaitExternal by a
// handler that returned ResultOKWait, mirroring
// HttpEvent::sendAnswer(EFormResult). It may be called from any goroutine;
// the resume is executed under the owning Worker's mutex via
// reactor.Worker.Resume.
func (c *Conn) SendAnswer(result FormResult) {
	w := c.Worker()
	if w == nil {
		return
	}
	w.Resume(c, func() reactor.CallResult {
		if c.state != StateWaitExternal {
			return reactor.Skip
		}
		return c.handleFormResult(result)
	})
}
