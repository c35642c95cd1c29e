package remotecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("1", 64)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok"}, hclog.NewNullLogger())
}

func TestExists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})

	ok, err := client.Exists(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExistsMiss(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := client.Exists(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchVerifiesDigest(t *testing.T) {
	payload := []byte("zstd-framed-tar-bytes")
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Artifact-Hash", digest)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})

	body, ok, err := client.Fetch(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, body)
}

func TestFetchDigestMismatchIsTreatedAsMiss(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Artifact-Hash", "deadbeef")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tampered"))
	})

	_, ok, err := client.Fetch(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreConflictIsNonFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusConflict)
	})

	err := client.Store(context.Background(), testKey, []byte("payload"))
	assert.NoError(t, err)
}

func TestStoreSkippedWhenReadOnly(t *testing.T) {
	var called sync.Once
	calledFlag := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Do(func() { calledFlag = true })
		w.WriteHeader(http.StatusCreated)
	})
	client.readOnly = true

	err := client.Store(context.Background(), testKey, []byte("payload"))
	require.NoError(t, err)
	assert.False(t, calledFlag, "PUT must not be issued when the client is read-only")
}

func TestTooManyFailuresShortCircuits(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.httpClient.RetryMax = 0

	var lastErr error
	for i := 0; i < int(maxFailCount)+2; i++ {
		_, lastErr = client.Exists(context.Background(), testKey)
		if lastErr == ErrTooManyFailures {
			break
		}
	}

	assert.ErrorIs(t, lastErr, ErrTooManyFailures)
}
