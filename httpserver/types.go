// Package httpserver implements the HTTP Engine (HE): an incremental
// request parser driven out of a pooled netbuf.Buffer, a small response
// state machine with keep-alive connection reuse, and a pluggable Handler
// interface the WebDAV layer (and any other embedder) implements.
// Grounded line-for-line on original_source/http_event.{hpp,cpp}'s
// HttpEvent/HttpEventInterface, realized as a reactor.Event.
package httpserver

import "github.com/webdavd/webdavd/netbuf"

// State is one of the seven request-lifecycle states of the HTTP Engine,
// mirroring EHttpState::EHttpState.
type State uint8

const (
	// StateWaitRequest is the state a fresh or keep-alive-reset connection
	// starts in: waiting for the request line and headers.
	StateWaitRequest State = iota
	// StateWaitAdditionalData means the header terminator has been found
	// and the handler's ParsePost reported it needs more body bytes.
	StateWaitAdditionalData
	// StateRequestReceived means the handler has everything it needs and
	// FormResult is about to be called.
	StateRequestReceived
	// StateSend means the response buffer is being drained and, once
	// empty, the connection resets for another keep-alive request.
	StateSend
	// StateSendAndClose means the response buffer is being drained and,
	// once empty, the connection is torn down.
	StateSendAndClose
	// StateWaitExternal means FormResult/GetMoreData returned
	// ResultOKWait: the engine leaves the descriptor alone until a
	// collaborating subsystem calls Conn.SendAnswer.
	StateWaitExternal
	// StateFinished means the connection has been torn down.
	StateFinished
)

// Version is the two HTTP versions the wire parser recognises, mirroring
// EHttpVersion::EHttpVersion.
type Version uint8

const (
	// HTTP10 is HTTP/1.0 or anything else that isn't exactly HTTP/1.1.
	HTTP10 Version = iota
	// HTTP11 is HTTP/1.1.
	HTTP11
)

// Verb is the request-type enumeration the core's request-line scanner
// recognises, mirroring the union of EHttpEventInterface::EHttpRequestType
// and WebDavInterface::ERequestType — the core recognises the full
// WebDAV verb set, not just GET/POST/HEAD, since dispatch by verb is the
// DAV layer's job, not the parser's.
type Verb uint8

const (
	VerbUnknown Verb = iota
	VerbGET
	VerbPOST
	VerbHEAD
	VerbPUT
	VerbDELETE
	VerbOPTIONS
	VerbPROPFIND
	VerbMKCOL
)

// String renders the verb as its wire token, for logging.
func (v Verb) String() string {
	switch v {
	case VerbGET:
		return "GET"
	case VerbPOST:
		return "POST"
	case VerbHEAD:
		return "HEAD"
	case VerbPUT:
		return "PUT"
	case VerbDELETE:
		return "DELETE"
	case VerbOPTIONS:
		return "OPTIONS"
	case VerbPROPFIND:
		return "PROPFIND"
	case VerbMKCOL:
		return "MKCOL"
	default:
		return "UNKNOWN"
	}
}

// FormResult is the five-outcome contract Handler.FormResult and
// Handler.GetMoreData report, mirroring
// HttpEventInterface::EFormResult plus the spec's OK_PARTIAL_SEND variant
// for streamed bodies (the original's enum only names RESULT_OK_CLOSE /
// RESULT_OK_KEEP_ALIVE / RESULT_OK_WAIT / RESULT_ERROR; OK_PARTIAL_SEND is
// this spec's addition, see spec.md §4.5).
type FormResult int

const (
	// ResultOKClose: write the buffer, then close the connection.
	ResultOKClose FormResult = iota
	// ResultOKKeepAlive: write the buffer, then reset for another request.
	ResultOKKeepAlive
	// ResultOKWait: the handler is not ready; the engine suspends until
	// Conn.SendAnswer is called.
	ResultOKWait
	// ResultOKPartialSend: write the buffer, then call GetMoreData for the
	// next chunk, repeating until OKClose or OKKeepAlive.
	ResultOKPartialSend
	// ResultError: the handler failed; the engine calls FormError.
	ResultError
)

// Handler is the pluggable Request Handler interface every HTTP Engine
// connection drives, mirroring HttpEventInterface. A Handler is
// constructed once per Conn and Reset between keep-alive requests rather
// than reconstructed, matching scenario 3 of the testable-properties
// section (reset hook called between requests, not a fresh instance).
type Handler interface {
	// ParseURI receives the request line's verb, version, host (if the
	// request URL carried a scheme+host), file-name and query string.
	// Returning false aborts the request with a 400 (or whatever FormError
	// supplies).
	ParseURI(verb Verb, version Version, host, fileName, query string) bool
	// ParseHeader receives one header's name and value. Returning false
	// aborts the request.
	ParseHeader(name, value string) bool
	// ParsePost is called once the header terminator has been found (with
	// postStart pointing just past it) and again each time more bytes
	// arrive while parseErr is false and enough is false. buf is the full
	// request buffer read so far. Returning parseErr true aborts the
	// request.
	ParsePost(postStart int, buf []byte) (enough bool, parseErr bool)
	// FormResult is called once the request is fully received. It must
	// write the response into buf (typically via NewAnswer) and report how
	// the engine should proceed.
	FormResult(buf *netbuf.Buffer, conn *Conn) FormResult
	// GetMoreData is called after a ResultOKPartialSend chunk has been
	// fully sent, to produce the next chunk.
	GetMoreData(buf *netbuf.Buffer, conn *Conn) FormResult
	// FormError is given a chance to write a protocol-specific error
	// response for the given state; returning false falls back to the
	// engine's hard-coded 400 Bad Request.
	FormError(state State, buf *netbuf.Buffer) bool
	// Reset prepares the handler for another keep-alive request. Returning
	// false tells the engine the connection should close instead of
	// reusing it (e.g. the client asked for Connection: close).
	Reset() bool
}
