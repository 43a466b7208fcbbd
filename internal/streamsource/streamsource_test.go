package streamsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenParsesDateAndCodec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Date", "Wed, 29 Jul 2026 10:00:00 GMT")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	s, err := Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, CodecMP3, s.Codec)
	require.NotZero(t, s.OriginWallClockMs)
}

func TestOpenRejectsMissingDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil // nil suppresses the server's automatic Date header
		w.Header().Set("Content-Type", "audio/mpeg")
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestOpenRejectsUnsupportedCodec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Date", "Wed, 29 Jul 2026 10:00:00 GMT")
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrUnsupportedInputCodec)
}

func TestOpenRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrBadStatus)
}
