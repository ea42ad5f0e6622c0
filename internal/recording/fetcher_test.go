package recording

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"github.com/stretchr/testify/require"
)

func setupFetcherTest(t *testing.T) {
	t.Helper()

	circuitbreak.Init()

	go func() {
		for range circuitbreak.CircuitBreakChan {
		}
	}()

	config.Conf.FetchTimeout = 2
	config.Conf.FetchMaxBytes = 1024
	config.Conf.FetchRetryMaxAttempts = 1
	config.Conf.FetchRetryBackoffMin = 0
	config.Conf.FetchRetryBackoffMax = 1
	config.Conf.FetchIntervalCB = 1
	config.Conf.FetchConsecutiveFailuresCB = 100
}

func TestFetchSuccess(t *testing.T) {
	setupFetcherTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	fetcher := NewFetcher()

	result, err := fetcher.Fetch(context.Background(), server.URL+"/rec.mp3", "call-1")
	require.NoError(t, err)
	require.Equal(t, "mp3-bytes", result.Body.String())
	require.Equal(t, "audio/mpeg", result.ContentType)
}

func TestFetchUpstreamError(t *testing.T) {
	setupFetcherTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewFetcher()

	_, err := fetcher.Fetch(context.Background(), server.URL, "call-2")
	require.ErrorIs(t, err, ErrUpstream)
}

func TestFetchTooLargeByContentLength(t *testing.T) {
	setupFetcherTest(t)

	payload := strings.Repeat("a", 2048)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	fetcher := NewFetcher()

	_, err := fetcher.Fetch(context.Background(), server.URL, "call-3")
	require.ErrorIs(t, err, ErrTooLarge)
	require.False(t, Retryable(err))
}

func TestFetchTooLargeByStreamedBody(t *testing.T) {
	setupFetcherTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)

		// Chunked response, no Content-Length header.
		for range 4 {
			_, _ = w.Write([]byte(strings.Repeat("b", 512)))
			flusher.Flush()
		}
	}))
	defer server.Close()

	fetcher := NewFetcher()

	_, err := fetcher.Fetch(context.Background(), server.URL, "call-4")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchUnreachable(t *testing.T) {
	setupFetcherTest(t)

	fetcher := NewFetcher()

	_, err := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/rec.mp3", "call-5")
	require.ErrorIs(t, err, ErrUnreachable)
	require.True(t, Retryable(err))
}

func TestFetchTimeout(t *testing.T) {
	setupFetcherTest(t)

	config.Conf.FetchTimeout = 1

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer server.Close()

	fetcher := NewFetcher()

	_, err := fetcher.Fetch(context.Background(), server.URL, "call-6")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	setupFetcherTest(t)

	config.Conf.FetchRetryMaxAttempts = 3

	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("ogg-bytes"))
	}))
	defer server.Close()

	fetcher := NewFetcher()

	result, err := fetcher.Fetch(context.Background(), server.URL, "call-7")
	require.NoError(t, err)
	require.Equal(t, int32(3), attempts.Load())
	require.Equal(t, "ogg-bytes", result.Body.String())
}

func TestFetchDoesNotRetryTooLarge(t *testing.T) {
	setupFetcherTest(t)

	config.Conf.FetchRetryMaxAttempts = 3

	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("c", 4096)))
	}))
	defer server.Close()

	fetcher := NewFetcher()

	_, err := fetcher.Fetch(context.Background(), server.URL, "call-8")
	require.ErrorIs(t, err, ErrTooLarge)
	require.Equal(t, int32(1), attempts.Load())
}

func TestExtension(t *testing.T) {
	require.Equal(t, ".mp3", Extension("audio/mpeg", ""))
	require.Equal(t, ".ogg", Extension("application/ogg; charset=utf-8", ""))
	require.Equal(t, ".wav", Extension("audio/x-wav", ""))
	require.Equal(t, ".mp3", Extension("application/octet-stream", "https://pbx.example.com/rec/abc.MP3"))
	require.Equal(t, ".bin", Extension("", "https://pbx.example.com/rec/abc"))
}

func TestObjectKeyStablePerCall(t *testing.T) {
	keyA := ObjectKey("call-9", ".mp3")
	keyB := ObjectKey("call-9", ".mp3")
	require.Equal(t, keyA, keyB)
	require.Len(t, keyA, 32+len(".mp3"))

	keyC := ObjectKey("call-10", ".mp3")
	require.NotEqual(t, keyA, keyC)
}

func TestOriginalFilename(t *testing.T) {
	dialTime := time.Date(2026, 2, 10, 10, 30, 0, 0, time.UTC)

	name := OriginalFilename(dialTime, "+549 11 6795-0079", ".mp3")
	require.True(t, strings.HasPrefix(name, "20260210103000_5491167950079_"))
	require.True(t, strings.HasSuffix(name, ".mp3"))

	anonymous := OriginalFilename(dialTime, "anonymous", ".wav")
	require.True(t, strings.HasPrefix(anonymous, "20260210103000_unknown_"))
}
