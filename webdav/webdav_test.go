package webdav

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdavd/webdavd/httpserver"
	"github.com/webdavd/webdavd/netbuf"
	"github.com/webdavd/webdavd/offload"
)

func newAnswerBuf() *netbuf.Buffer {
	p := netbuf.NewPool(4096, 4)
	return p.Get()
}

func TestHandlerOptionsAdvertisesAllowAndDAV(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseURI(httpserver.VerbOPTIONS, httpserver.HTTP11, "", "/foo", ""))

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result)
	body := string(buf.Bytes())
	assert.Contains(t, body, "DAV: 1")
	assert.Contains(t, body, "Allow: OPTIONS, GET, HEAD, POST, PUT, DELETE\r\n")
	assert.Contains(t, body, "Allow: MKCOL, PROPFIND, PROPPATCH\r\n")
}

func TestHandlerPropfindSupportedMethodSet(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseURI(httpserver.VerbPROPFIND, httpserver.HTTP11, "", "/foo", ""))

	body := `<?xml version="1.0"?><propfind xmlns="DAV:"><prop><supported-method-set/></prop></propfind>`
	require.True(t, h.ParseHeader("Content-Length", strconv.Itoa(len(body))))
	enough, parseErr := h.ParsePost(0, []byte(body))
	require.False(t, parseErr)
	require.True(t, enough)

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result)
	out := string(buf.Bytes())
	assert.Contains(t, out, "207 Multi-Status")
	assert.Contains(t, out, "supported-method-set")
	assert.Contains(t, out, `name="MKCOL"`)
}

func TestHandlerPropfindEmptyBodyDefaultsToSupportedMethodSet(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseURI(httpserver.VerbPROPFIND, httpserver.HTTP11, "", "/foo", ""))

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result)
	assert.Contains(t, string(buf.Bytes()), "supported-method-set")
}

func TestHandlerPropfindMalformedBodyIs400(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseURI(httpserver.VerbPROPFIND, httpserver.HTTP11, "", "/foo", ""))

	body := `not xml at all`
	require.True(t, h.ParseHeader("Content-Length", strconv.Itoa(len(body))))
	_, _ = h.ParsePost(0, []byte(body))

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKClose, result)
	assert.Contains(t, string(buf.Bytes()), "400 Bad Request")
}

func TestHandlerNonHTTP11Or10VersionIs505(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseURI(httpserver.VerbGET, httpserver.HTTP10, "", "/foo", ""))
	h.version = httpserver.Version(200) // neither HTTP10 nor HTTP11

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKClose, result)
	assert.Contains(t, string(buf.Bytes()), "505")
}

func TestHandlerOverwriteHeaderCaseInsensitive(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseHeader("overwrite", "t"))
	assert.True(t, h.overwrite)

	h2 := NewHandler(cfg, nil)
	require.True(t, h2.ParseHeader("Overwrite", "F"))
	assert.False(t, h2.overwrite)
}

func TestHandlerPutWithoutContentLengthIs411(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseURI(httpserver.VerbPUT, httpserver.HTTP11, "", "/foo.txt", ""))

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKClose, result)
	assert.Contains(t, string(buf.Bytes()), "411")
}

func TestHandlerPutInMemoryRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	store := NewFileStore(root)
	h := NewHandler(cfg, store)
	require.True(t, h.ParseURI(httpserver.VerbPUT, httpserver.HTTP11, "", "/hello.txt", ""))

	body := "hello world"
	require.True(t, h.ParseHeader("Content-Length", strconv.Itoa(len(body))))
	enough, parseErr := h.ParsePost(0, []byte(body))
	require.False(t, parseErr)
	require.True(t, enough)

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result)
	assert.Contains(t, string(buf.Bytes()), "201 Created")

	size, _, err := store.Stat("/hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len(body), size)
}

func TestHandlerPutSpillsToDiskAboveThreshold(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{MaxPostInMemorySize: 4, TmpPath: t.TempDir()}
	store := NewFileStore(root)
	h := NewHandler(cfg, store)
	require.True(t, h.ParseURI(httpserver.VerbPUT, httpserver.HTTP11, "", "/big.txt", ""))

	body := "this body is longer than the in-memory threshold"
	require.True(t, h.ParseHeader("Content-Length", strconv.Itoa(len(body))))

	// Simulate two incremental reads, as the engine would deliver them.
	half := body[:len(body)/2]
	enough, parseErr := h.ParsePost(0, []byte(half))
	require.False(t, parseErr)
	require.False(t, enough)
	require.NotNil(t, h.put.spill)

	enough, parseErr = h.ParsePost(0, []byte(body))
	require.False(t, parseErr)
	require.True(t, enough)

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result)
	assert.Contains(t, string(buf.Bytes()), "201 Created")

	data, err := store.Open("/big.txt")
	require.NoError(t, err)
	defer data.Close()
	got := make([]byte, len(body))
	n, _ := data.Read(got)
	assert.Equal(t, body, string(got[:n]))
}

func TestHandlerDeleteAndGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	store := NewFileStore(root)
	require.NoError(t, store.Put("/x.txt", strings.NewReader("payload"), int64(len("payload")), true))

	h := NewHandler(cfg, store)
	require.True(t, h.ParseURI(httpserver.VerbGET, httpserver.HTTP11, "", "/x.txt", ""))
	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result)
	assert.Contains(t, string(buf.Bytes()), "payload")

	h2 := NewHandler(cfg, store)
	require.True(t, h2.ParseURI(httpserver.VerbDELETE, httpserver.HTTP11, "", "/x.txt", ""))
	buf2 := newAnswerBuf()
	result2 := h2.FormResult(buf2, nil)
	assert.Equal(t, httpserver.ResultOKKeepAlive, result2)
	assert.Contains(t, string(buf2.Bytes()), "204 No Content")

	_, _, err := store.Stat("/x.txt")
	assert.Error(t, err)
}

func TestHandlerGetOffloadsBodyReadAndSuspends(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	store := NewFileStore(root)
	const payload = "offloaded-payload"
	require.NoError(t, store.Put("/big.txt", strings.NewReader(payload), int64(len(payload)), true))

	pool, err := offload.New(4)
	require.NoError(t, err)
	defer pool.Release()

	h := NewHandler(cfg, store, WithOffload(pool))
	require.True(t, h.ParseURI(httpserver.VerbGET, httpserver.HTTP11, "", "/big.txt", ""))

	buf := newAnswerBuf()
	conn := httpserver.NewConn(-1, 0, h)
	result := h.FormResult(buf, conn)
	assert.Equal(t, httpserver.ResultOKWait, result, "GET with an offload pool configured suspends instead of reading inline")

	require.Eventually(t, func() bool {
		return strings.Contains(string(buf.Bytes()), payload)
	}, time.Second, time.Millisecond, "offloaded read never appended the body to the response buffer")
}

func TestHandlerGetMissingFileIs404(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	store := NewFileStore(root)
	h := NewHandler(cfg, store)
	require.True(t, h.ParseURI(httpserver.VerbGET, httpserver.HTTP11, "", "/missing.txt", ""))

	buf := newAnswerBuf()
	result := h.FormResult(buf, nil)
	assert.Equal(t, httpserver.ResultOKClose, result)
	assert.Contains(t, string(buf.Bytes()), "404")
}

func TestHandlerResetClearsStateBetweenRequests(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseHeader("Connection", "Keep-Alive"))
	require.True(t, h.ParseURI(httpserver.VerbGET, httpserver.HTTP11, "", "/foo", ""))

	assert.True(t, h.Reset())
	assert.Equal(t, httpserver.VerbUnknown, h.verb)
	assert.Nil(t, h.put)
}

func TestHandlerResetRespectsConnectionClose(t *testing.T) {
	cfg := &Config{MaxPostInMemorySize: 65536, TmpPath: t.TempDir()}
	h := NewHandler(cfg, nil)
	require.True(t, h.ParseHeader("Connection", "close"))
	assert.False(t, h.Reset())
}

