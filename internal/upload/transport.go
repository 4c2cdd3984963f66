package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	merrors "murmur/internal/errors"
)

// ProgressFunc observes upload progress as bytes are handed to the transport
// layer. total is the declared payload size.
type ProgressFunc func(sent int64, total int64)

// Transport performs the client-side direct upload against a grant's write
// URL. The server never mediates the payload. Transport does not retry;
// retry policy belongs to the caller, which can tell from the error kind
// whether the same grant is still worth retrying (network failure) or a
// fresh one is needed (rejection).
type Transport struct {
	client  *http.Client
	timeout time.Duration
}

// NewTransport creates a transport with the given per-upload timeout. The
// timeout is independent of the grant's own expiry.
func NewTransport(timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Transport{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Upload streams size bytes from body to the grant's write URL, reporting
// progress along the way.
func (t *Transport) Upload(ctx context.Context, grant Grant, body io.Reader, size int64, onProgress ProgressFunc) error {
	const op = "upload.transport"

	if size <= 0 {
		return merrors.New(merrors.KindInvalidInput, op, "payload size must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	reader := &progressReader{inner: body, total: size, onProgress: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.UploadURL, reader)
	if err != nil {
		return merrors.Wrap(merrors.KindInvalidInput, op, err)
	}
	req.Header.Set("Content-Type", grant.ContentType)
	req.ContentLength = size

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return merrors.Wrapf(merrors.KindTimeout, op, err, "upload abandoned after %s", t.timeout)
		}
		return merrors.Wrapf(merrors.KindNetwork, op, err, "upload transport failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusUnauthorized:
		return merrors.Wrapf(merrors.KindRejected, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, detail), "storage rejected the upload credential")
	default:
		return merrors.Wrapf(merrors.KindStorage, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, detail), "storage refused the upload")
	}
}

type progressReader struct {
	inner      io.Reader
	total      int64
	sent       int64
	onProgress ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.onProgress != nil {
			r.onProgress(r.sent, r.total)
		}
	}
	return n, err
}
