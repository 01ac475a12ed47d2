package netbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPoolRoundTrip(t *testing.T) {
	const target = 4096
	p := NewPool(target, 2)
	b := p.Get()
	require.NotNil(t, b)
	b.Append([]byte("hello"))
	assert.Equal(t, 5, b.Len())

	p.Put(b)
	b2 := p.Get()
	// spec.md §8's pool round-trip law: capacity(b') >= target_size.
	assert.GreaterOrEqual(t, cap(b2.bb.B), target)
	assert.Equal(t, 0, b2.Len())
}

func TestPoolDropsOversizedBuffer(t *testing.T) {
	p := NewPool(16, 4)
	b := p.Get()
	b.growBy(1024)
	p.Put(b)
	assert.Len(t, p.free, 0)
}

func TestBufferReadWriteSocketpair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	writer := newBuffer(128)
	writer.Append([]byte("GET / HTTP/1.0\r\n\r\n"))
	res, err := writer.Send(fds[0])
	require.NoError(t, err)
	assert.Equal(t, OK, res)

	reader := newBuffer(128)
	var got []byte
	for len(got) < 18 {
		res, err := reader.Read(fds[1])
		require.NoError(t, err)
		if res == InProgress {
			continue
		}
		got = reader.Bytes()
	}
	assert.Equal(t, "GET / HTTP/1.0\r\n\r\n", string(got))
}

func TestBufferTruncate(t *testing.T) {
	b := newBuffer(64)
	b.Append([]byte("abcdef"))
	b.Truncate(3)
	assert.Equal(t, "abc", string(b.Bytes()))
}
