package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "murmur/internal/errors"
)

func TestUploadReportsProgress(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		received = body
		assert.Equal(t, "audio/mp4", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload := strings.Repeat("x", 4096)
	var mu sync.Mutex
	var readings []int64

	transport := NewTransport(time.Minute)
	err := transport.Upload(context.Background(),
		Grant{UploadURL: server.URL, ContentType: "audio/mp4"},
		strings.NewReader(payload), int64(len(payload)),
		func(sent, total int64) {
			mu.Lock()
			readings = append(readings, sent)
			mu.Unlock()
			assert.Equal(t, int64(len(payload)), total)
		})
	require.NoError(t, err)
	assert.Equal(t, payload, string(received))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, readings)
	for i := 1; i < len(readings); i++ {
		assert.GreaterOrEqual(t, readings[i], readings[i-1])
	}
	assert.Equal(t, int64(len(payload)), readings[len(readings)-1])
}

func TestUploadTimeoutIsNetworkDistinct(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	transport := NewTransport(50 * time.Millisecond)
	err := transport.Upload(context.Background(),
		Grant{UploadURL: server.URL, ContentType: "audio/mp4"},
		strings.NewReader("data"), 4, nil)

	require.Error(t, err)
	assert.Equal(t, merrors.KindTimeout, merrors.KindOf(err))
}

func TestUploadRejectionIsDistinguishable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "credential expired", http.StatusForbidden)
	}))
	defer server.Close()

	transport := NewTransport(time.Minute)
	err := transport.Upload(context.Background(),
		Grant{UploadURL: server.URL, ContentType: "audio/mp4"},
		strings.NewReader("data"), 4, nil)

	require.Error(t, err)
	assert.Equal(t, merrors.KindRejected, merrors.KindOf(err))
}

func TestUploadRefusedPayloadIsStorageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	transport := NewTransport(time.Minute)
	err := transport.Upload(context.Background(),
		Grant{UploadURL: server.URL, ContentType: "audio/mp4"},
		strings.NewReader("data"), 4, nil)

	require.Error(t, err)
	assert.Equal(t, merrors.KindStorage, merrors.KindOf(err))
}

func TestUploadConnectionRefusedIsNetwork(t *testing.T) {
	transport := NewTransport(time.Minute)
	err := transport.Upload(context.Background(),
		Grant{UploadURL: "http://127.0.0.1:1/upload", ContentType: "audio/mp4"},
		strings.NewReader("data"), 4, nil)

	require.Error(t, err)
	assert.Equal(t, merrors.KindNetwork, merrors.KindOf(err))
}

func TestUploadRequiresPositiveSize(t *testing.T) {
	transport := NewTransport(time.Minute)
	err := transport.Upload(context.Background(), Grant{UploadURL: "http://localhost/x"}, strings.NewReader(""), 0, nil)

	require.Error(t, err)
	assert.Equal(t, merrors.KindInvalidInput, merrors.KindOf(err))
}
