// File: internal/netgate/buffer.go
package netgate

import (
	"bytes"
	"io"
	"net/http"
)

// responseBuffer captures a handler's output so it can be replayed as a
// proxy short-circuit response. It deliberately does not implement
// http.Hijacker; connection-stealing handlers cannot run behind the
// gateway and fail their upgrade cleanly instead.
type responseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

// response converts the captured output into an *http.Response suitable
// for returning from a goproxy request hook.
func (b *responseBuffer) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    b.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        b.header,
		Body:          io.NopCloser(bytes.NewReader(b.body.Bytes())),
		ContentLength: int64(b.body.Len()),
		Request:       req,
	}
}
