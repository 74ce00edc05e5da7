// internal/solver/fetch.go
package solver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// maxPayloadBytes caps a fetched challenge clip. Real audio variants are a
// few hundred KB; anything larger is not a challenge payload.
const maxPayloadBytes = 8 << 20

// FetchPayload downloads the machine-presentable challenge media. A nil
// client gets the default decompressing one.
func FetchPayload(ctx context.Context, client *http.Client, rawURL string) (Payload, error) {
	if client == nil {
		client = NewHTTPClient(0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("building payload request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("fetching challenge payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Payload{}, fmt.Errorf("fetching challenge payload: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return Payload{}, fmt.Errorf("reading challenge payload: %w", err)
	}
	if len(data) > maxPayloadBytes {
		return Payload{}, fmt.Errorf("challenge payload exceeds %d bytes", maxPayloadBytes)
	}
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("challenge payload at %s is empty", rawURL)
	}

	return Payload{
		Data:      data,
		MIMEType:  payloadMIME(resp.Header.Get("Content-Type"), rawURL),
		SourceURL: rawURL,
	}, nil
}

// payloadMIME resolves the media type from the response header, falling
// back to the URL extension for servers that omit it.
func payloadMIME(contentType, rawURL string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".mp3":
			return "audio/mpeg"
		case ".wav":
			return "audio/wav"
		case ".ogg":
			return "audio/ogg"
		}
	}
	return "application/octet-stream"
}
