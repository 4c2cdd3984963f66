package upload

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
	"murmur/internal/storage/blobstore"
)

// Grant is a short-lived, scoped credential allowing a client to write one
// object directly to storage. It is never persisted; once used or expired it
// has no identity.
type Grant struct {
	ObjectKey   string    `json:"object_key"`
	UploadURL   string    `json:"upload_url"`
	ObjectURL   string    `json:"object_url"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issuer mints upload grants. It issues credentials but never enforces them;
// enforcement belongs to the storage surface honoring the signed URL.
type Issuer struct {
	store   blobstore.BlobStore
	ttl     time.Duration
	allowed map[string]struct{}
	logger  logging.Logger
}

// NewIssuer creates a grant issuer. allowedContentTypes is the closed set of
// media types a grant may declare.
func NewIssuer(store blobstore.BlobStore, ttl time.Duration, allowedContentTypes []string, logger logging.Logger) *Issuer {
	allowed := make(map[string]struct{}, len(allowedContentTypes))
	for _, ct := range allowedContentTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}
	return &Issuer{
		store:   store,
		ttl:     ttl,
		allowed: allowed,
		logger:  logging.OrNop(logger),
	}
}

// Issue returns a grant for one object named after fileName. The object key
// combines a random token with the sanitized file name so concurrent
// submissions never alias.
func (i *Issuer) Issue(ctx context.Context, fileName string, contentType string) (Grant, error) {
	const op = "upload.issue"

	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return Grant{}, merrors.New(merrors.KindInvalidInput, op, "content type is required")
	}
	if _, ok := i.allowed[contentType]; !ok {
		return Grant{}, merrors.New(merrors.KindInvalidInput, op, "content type "+contentType+" is not allowed")
	}

	key := "recordings/" + uuid.New().String() + "/" + sanitizeFileName(fileName)
	expiresAt := time.Now().Add(i.ttl)

	uploadURL, err := i.store.SignedUploadURL(ctx, key, contentType, i.ttl)
	if err != nil {
		return Grant{}, merrors.Wrap(merrors.KindStorage, op, err)
	}
	objectURL, err := i.store.SignedReadURL(ctx, key, i.ttl)
	if err != nil {
		return Grant{}, merrors.Wrap(merrors.KindStorage, op, err)
	}

	i.logger.Debug("issued upload grant: key=%s contentType=%s expires=%s", key, contentType, expiresAt.Format(time.RFC3339))

	return Grant{
		ObjectKey:   key,
		UploadURL:   uploadURL,
		ObjectURL:   objectURL,
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

const maxFileNameLength = 64

// sanitizeFileName strips everything that is not safe inside an object key.
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	cleaned := strings.Trim(b.String(), ".-")
	if len(cleaned) > maxFileNameLength {
		cleaned = cleaned[len(cleaned)-maxFileNameLength:]
	}
	if cleaned == "" {
		cleaned = "upload"
	}
	return cleaned
}
