package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_ReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipfs/bafy123", r.URL.Path)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := New(&http.Client{Timeout: 2 * time.Second})
	body, err := c.Fetch(context.Background(), srv.URL, "bafy123", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestFetch_RejectsOverDeclaredContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Fetch(context.Background(), srv.URL, "bafy123", 100)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetch_RejectsStreamExceedingCapDespiteUndeclaredLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 20; i++ {
			_, _ = w.Write([]byte(strings.Repeat("a", 10)))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Fetch(context.Background(), srv.URL, "bafy123", 100)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetch_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Fetch(context.Background(), srv.URL, "bafy123", 0)
	assert.Error(t, err)
}
