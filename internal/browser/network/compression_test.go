// internal/browser/network/compression_test.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write(data)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

// serveEncoded returns a test server that replies with body under the
// given Content-Encoding header value(s).
func serveEncoded(t *testing.T, body []byte, encodings ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, enc := range encodings {
			w.Header().Add("Content-Encoding", enc)
		}
		_, _ = w.Write(body)
	}))
}

func fetchVia(t *testing.T, rt http.RoundTripper, url string) *http.Response {
	t.Helper()
	client := &http.Client{Transport: rt}
	resp, err := client.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDecodingRoundTripper(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40))

	cases := []struct {
		name      string
		body      func(*testing.T, []byte) []byte
		encodings []string
	}{
		{"Gzip", gzipBytes, []string{"gzip"}},
		{"Brotli", brotliBytes, []string{"br"}},
		{"ZlibDeflate", zlibBytes, []string{"deflate"}},
		{"RawDeflate", rawDeflateBytes, []string{"deflate"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serveEncoded(t, tc.body(t, payload), tc.encodings...)
			defer srv.Close()

			resp := fetchVia(t, NewDecodingRoundTripper(nil), srv.URL)
			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, payload, got)
			assert.True(t, resp.Uncompressed)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Equal(t, int64(-1), resp.ContentLength)
		})
	}
}

func TestDecodingRoundTripperLayeredEncodings(t *testing.T) {
	payload := []byte(strings.Repeat("layered payload ", 64))
	// Applied deflate first, then gzip; decoding must run in reverse.
	body := gzipBytes(t, rawDeflateBytes(t, payload))

	srv := serveEncoded(t, body, "deflate", "gzip")
	defer srv.Close()

	resp := fetchVia(t, NewDecodingRoundTripper(nil), srv.URL)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodingRoundTripperIdentityPassthrough(t *testing.T) {
	payload := []byte("plain body")
	srv := serveEncoded(t, payload, "identity")
	defer srv.Close()

	resp := fetchVia(t, NewDecodingRoundTripper(nil), srv.URL)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodingRoundTripperUnsupportedEncoding(t *testing.T) {
	srv := serveEncoded(t, []byte("whatever"), "zstd")
	defer srv.Close()

	client := &http.Client{Transport: NewDecodingRoundTripper(nil)}
	resp, err := client.Get(srv.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported Content-Encoding")
}

func TestDecodingRoundTripperAdvertisesEncodings(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Accept-Encoding")
	}))
	defer srv.Close()

	fetchVia(t, NewDecodingRoundTripper(nil), srv.URL)

	accept := <-got
	assert.Contains(t, accept, "br")
	assert.Contains(t, accept, "gzip")
	assert.Contains(t, accept, "deflate")
}

func TestDecodingRoundTripperRespectsCallerAcceptEncoding(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Accept-Encoding")
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	client := &http.Client{Transport: NewDecodingRoundTripper(nil)}
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "gzip", <-got)
}

func TestDecodeResponseBodyNilSafe(t *testing.T) {
	require.NoError(t, decodeResponseBody(nil))
	require.NoError(t, decodeResponseBody(&http.Response{Header: http.Header{}}))
}

func TestDecodedBodyReleasesPooledReaderOnce(t *testing.T) {
	calls := 0
	body := &decodedBody{
		ReadCloser: io.NopCloser(strings.NewReader("")),
		underlying: io.NopCloser(strings.NewReader("")),
		release:    func() { calls++ },
	}
	require.NoError(t, body.Close())
	require.NoError(t, body.Close())
	assert.Equal(t, 1, calls)
}
