// internal/browser/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Pooled decompression readers. Reset before each use; a failed Reset
// still leaves the allocation reusable.
var (
	gzipPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

// Resetting pooled readers against an empty source drops their reference
// to the previous body without triggering a header read panic.
var emptyReader = strings.NewReader("")

// DecodingRoundTripper advertises compression on outgoing requests and
// transparently decodes the response body. Supports brotli, gzip and
// both zlib-wrapped and raw deflate, including layered encodings.
type DecodingRoundTripper struct {
	// Transport handles the request after the Accept-Encoding header is
	// set. Nil falls back to http.DefaultTransport.
	Transport http.RoundTripper
}

func NewDecodingRoundTripper(transport http.RoundTripper) *DecodingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &DecodingRoundTripper{Transport: transport}
}

func (d *DecodingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := d.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decodeResponseBody(resp); err != nil {
		// The stream may be partially consumed; the response is unusable.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	return resp, nil
}

// decodeResponseBody wraps resp.Body with decoders for each
// Content-Encoding layer, applied in reverse of the order they were
// listed. On success the encoding and length headers are cleared and
// resp.Uncompressed is set. On error the body may be partially read and
// the caller must discard the response.
func decodeResponseBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		var release func()

		switch encoding {
		case "gzip":
			zr := gzipPool.Get().(*gzip.Reader)
			if err := zr.Reset(resp.Body); err != nil {
				gzipPool.Put(zr)
				return fmt.Errorf("gzip init: %w", err)
			}
			reader = zr
			release = func() {
				_ = zr.Reset(emptyReader)
				gzipPool.Put(zr)
			}

		case "br":
			br := brotliPool.Get().(*brotli.Reader)
			if err := br.Reset(resp.Body); err != nil {
				brotliPool.Put(br)
				return fmt.Errorf("brotli init: %w", err)
			}
			// brotli.Reader has no Close.
			reader = io.NopCloser(br)
			release = func() {
				_ = br.Reset(emptyReader)
				brotliPool.Put(br)
			}

		case "deflate":
			dr, err := deflateReader(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate init: %w", err)
			}
			reader = dr

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer %q", encoding)
		}

		resp.Body = &decodedBody{
			ReadCloser: reader,
			underlying: resp.Body,
			release:    release,
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// decodedBody closes the decoder and the wrapped body together and
// returns pooled readers exactly once.
type decodedBody struct {
	io.ReadCloser
	underlying io.ReadCloser
	release    func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.underlying.Close())
}

// replayReader buffers what has been read so the stream can be retried
// with a different decoder after a failed header probe.
type replayReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newReplayReader(r io.Reader) *replayReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &replayReader{
		r:      io.TeeReader(r, buf),
		buf:    buf,
		source: r,
	}
}

func (rr *replayReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

func (rr *replayReader) rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// deflateReader probes for a zlib envelope (RFC 1950) and falls back to
// raw deflate (RFC 1951); servers ship both under the same token.
func deflateReader(r io.Reader) (io.ReadCloser, error) {
	rr := newReplayReader(r)

	zr, err := zlib.NewReader(rr)
	if err == nil {
		return zr, nil
	}

	rr.rewind()
	return flate.NewReader(rr), nil
}
