package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrLimitExceeded is returned by ReadLimited when the stream is longer than
// the permitted maximum.
var ErrLimitExceeded = errors.New("read limit exceeded")

// maxPooledBuffer keeps one oversized upload from pinning memory in the pool.
const maxPooledBuffer = 8 << 20

var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns an empty buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer hands b back. b must not be used afterwards.
func ReleaseBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	bufPool.Put(b)
}

// ContextReader fails the next Read once ctx is done, so a stalled client
// upload stops being buffered when the request deadline passes.
type ContextReader struct {
	Ctx context.Context
	R   io.Reader
}

func (c ContextReader) Read(p []byte) (int, error) {
	if err := c.Ctx.Err(); err != nil {
		return 0, err
	}
	return c.R.Read(p)
}

// ReadLimited buffers r and returns a copy owned by the caller. It fails with
// ErrLimitExceeded as soon as more than max bytes arrive; max <= 0 means no
// limit.
func ReadLimited(ctx context.Context, r io.Reader, max int64) ([]byte, error) {
	if max > 0 {
		r = io.LimitReader(r, max+1)
	}
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	if _, err := buf.ReadFrom(ContextReader{Ctx: ctx, R: r}); err != nil {
		return nil, err
	}
	if max > 0 && int64(buf.Len()) > max {
		return nil, ErrLimitExceeded
	}
	return CloneBytes(buf.Bytes()), nil
}
