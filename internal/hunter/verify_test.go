package hunter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnerd/pinnerd/pkg/kubo"
)

func TestVerify_BitswapPassWinsOverRetrieval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/routing/findprovs":
			_, _ = w.Write([]byte(`{"Type":4,"Responses":[]}` + "\n"))
		case "/api/v0/block/get":
			_, _ = w.Write([]byte("block-bytes"))
		case "/api/v0/cat":
			t.Fatal("retrieval must not be attempted once bitswap already passed")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	k := kubo.New(srv.URL, &http.Client{Timeout: time.Second})
	v := NewVerifier(k, time.Second, true)

	res := v.Verify(context.Background(), "bafy1", "peer1", "")
	require.NotNil(t, res.Passed)
	assert.True(t, *res.Passed)
	assert.Equal(t, MethodBitswap, res.MethodUsed)
	assert.Contains(t, res.MethodsAttempted, MethodDHTProvider)
	assert.Contains(t, res.MethodsAttempted, MethodBitswap)
	assert.NotContains(t, res.MethodsAttempted, MethodRetrieval)
}

func TestVerify_FallsBackToRetrievalWhenBitswapFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/routing/findprovs":
			_, _ = w.Write([]byte(`{"Type":4,"Responses":[]}` + "\n"))
		case "/api/v0/block/get":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v0/cat":
			_, _ = w.Write([]byte("full content"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	k := kubo.New(srv.URL, &http.Client{Timeout: time.Second})
	v := NewVerifier(k, time.Second, true)

	res := v.Verify(context.Background(), "bafy1", "peer1", "")
	require.NotNil(t, res.Passed)
	assert.True(t, *res.Passed)
	assert.Equal(t, MethodRetrieval, res.MethodUsed)
	assert.Contains(t, res.MethodsAttempted, MethodRetrieval)
}

func TestVerify_AllMethodsFailLeavesPassedNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	k := kubo.New(srv.URL, &http.Client{Timeout: time.Second})
	v := NewVerifier(k, time.Second, true)

	res := v.Verify(context.Background(), "bafy1", "peer1", "")
	assert.Nil(t, res.Passed)
}

func TestVerify_RetrievalDisabledStopsAfterBitswapFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/routing/findprovs":
			_, _ = w.Write([]byte(`{"Type":4,"Responses":[]}` + "\n"))
		case "/api/v0/block/get":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v0/cat":
			t.Fatal("retrieval must not be attempted when disabled")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	k := kubo.New(srv.URL, &http.Client{Timeout: time.Second})
	v := NewVerifier(k, time.Second, false)

	res := v.Verify(context.Background(), "bafy1", "peer1", "")
	assert.Nil(t, res.Passed)
	assert.NotContains(t, res.MethodsAttempted, MethodRetrieval)
}
