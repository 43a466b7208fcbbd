// Package streamsource implements C1: opening an Icecast/Shoutcast HTTP
// audio stream and establishing the authoritative wall-clock origin for
// the session that is about to start (spec §4.1).
package streamsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// InputCodec is the codec declared by the stream's Content-Type.
type InputCodec int

const (
	CodecUnknown InputCodec = iota
	CodecMP3
	CodecAACADTS
)

func (c InputCodec) String() string {
	switch c {
	case CodecMP3:
		return "mp3"
	case CodecAACADTS:
		return "aac-adts"
	default:
		return "unknown"
	}
}

// Sentinel errors — spec §4.1 "Failures".
var (
	ErrConnect               = errors.New("streamsource: connect failed")
	ErrBadStatus             = errors.New("streamsource: non-2xx response")
	ErrMissingOrUnparseableDate = errors.New("streamsource: missing or unparseable Date header")
	ErrUnsupportedInputCodec = errors.New("streamsource: unsupported input codec")
)

// Stream is an open capture connection: a readable byte stream plus the
// wall-clock origin and declared codec pinned at open time.
type Stream struct {
	Body              io.ReadCloser
	OriginWallClockMs int64
	Codec             InputCodec
}

// Open performs the HTTP GET against url, exactly as spec §4.1 describes:
// reject non-2xx, require a parseable Date header (fatal for the session
// if absent — timestamp integrity is mandatory), and derive the declared
// codec from Content-Type.
//
// A plain net/http client is used deliberately rather than a buffering
// HTTP client wrapper (see DESIGN.md): the response body is read
// incrementally for the life of the session and never fully buffered.
func Open(ctx context.Context, url string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}

	dateHeader := resp.Header.Get("Date")
	originMs, err := parseHTTPDateMs(dateHeader)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q: %v", ErrMissingOrUnparseableDate, dateHeader, err)
	}

	codec := codecFromContentType(resp.Header.Get("Content-Type"))
	if codec == CodecUnknown {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content-type %q", ErrUnsupportedInputCodec, resp.Header.Get("Content-Type"))
	}

	return &Stream{Body: resp.Body, OriginWallClockMs: originMs, Codec: codec}, nil
}

func parseHTTPDateMs(header string) (int64, error) {
	if header == "" {
		return 0, fmt.Errorf("empty Date header")
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func codecFromContentType(contentType string) InputCodec {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return CodecMP3
	case "audio/aac", "audio/aacp", "audio/x-aac":
		return CodecAACADTS
	default:
		return CodecUnknown
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.Body.Close()
}
