package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/internal/ai"
	"murmur/internal/storage/blobstore"
)

func TestStorageSignedReadRoundTrip(t *testing.T) {
	stack := newTestStack(t, &ai.MockAnalyzer{})

	ctx := context.Background()
	err := stack.store.PutObject(ctx, "recordings/abc/voice.m4a", strings.NewReader("hello"),
		blobstore.PutOptions{ContentType: "audio/mp4", ContentLength: 5})
	require.NoError(t, err)

	url, err := stack.store.SignedReadURL(ctx, "recordings/abc/voice.m4a", time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mp4", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestStorageReadUnsignedIsForbidden(t *testing.T) {
	stack := newTestStack(t, &ai.MockAnalyzer{})

	ctx := context.Background()
	err := stack.store.PutObject(ctx, "recordings/abc/voice.m4a", strings.NewReader("hello"),
		blobstore.PutOptions{ContentType: "audio/mp4", ContentLength: 5})
	require.NoError(t, err)

	resp, err := http.Get(stack.server.URL + "/storage/recordings/abc/voice.m4a")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStorageReadMissingObject(t *testing.T) {
	stack := newTestStack(t, &ai.MockAnalyzer{})

	url, err := stack.store.SignedReadURL(context.Background(), "recordings/ghost/voice.m4a", time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
