package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
	"murmur/internal/storage/blobstore"
)

// ASRClient implements Transcriber over an OpenAI-compatible audio
// transcriptions API. It fetches the media object from the blob store and
// streams it to the provider; a missing object fails fast with a
// source-not-found error before any provider traffic.
type ASRClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	store      blobstore.BlobStore
	logger     logging.Logger
}

// NewASRClient constructs a transcription client reading media from store.
func NewASRClient(config Config, store blobstore.BlobStore, logger logging.Logger) *ASRClient {
	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	return &ASRClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     logging.OrNop(logger),
	}
}

func (c *ASRClient) Transcribe(ctx context.Context, objectKey string) (Transcript, error) {
	const op = "ai.transcribe"

	object, info, err := c.store.GetObject(ctx, objectKey)
	if err != nil {
		// KindSourceNotFound propagates untouched so the coordinator can
		// fail fast without calling the provider.
		return Transcript{}, err
	}
	defer func() { _ = object.Close() }()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", path.Base(objectKey))
	if err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindInternal, op, err)
	}
	if _, err := io.Copy(part, object); err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindStorage, op, err)
	}
	if err := form.WriteField("model", c.model); err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindInternal, op, err)
	}
	if err := form.WriteField("response_format", "verbose_json"); err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindInternal, op, err)
	}
	if err := form.Close(); err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindInternal, op, err)
	}

	endpoint := c.baseURL + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindInternal, op, err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("%s: POST %s key=%s size=%d", op, endpoint, objectKey, info.Size)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Transcript{}, wrapTransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, merrors.Wrap(merrors.KindNetwork, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Transcript{}, mapProviderStatus(op, resp.StatusCode, respBody)
	}

	var parsed Transcript
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Transcript{}, merrors.Wrapf(merrors.KindProvider, op, err, "unparseable transcription response")
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return Transcript{}, merrors.New(merrors.KindProvider, op, "transcription response is empty")
	}
	return parsed, nil
}
