package blobstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	merrors "murmur/internal/errors"
)

// URLSigner mints and verifies HMAC-signed object URLs. A signature binds the
// HTTP method, object key, declared content type, and expiry instant, so a
// credential cannot be replayed for a different object, a different payload
// type, or after it has lapsed.
type URLSigner struct {
	secret    []byte
	publicURL string
}

// NewURLSigner creates a signer rooted at publicURL (e.g.
// "http://localhost:8080/storage"). An empty secret is refused: unsigned
// storage URLs would make every grant permanently valid.
func NewURLSigner(publicURL string, secret string) (*URLSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("blobstore: signing secret is required")
	}
	if _, err := url.Parse(publicURL); err != nil {
		return nil, fmt.Errorf("blobstore: parse public url: %w", err)
	}
	return &URLSigner{secret: []byte(secret), publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// UploadURL returns a write URL scoped to key and contentType, valid until
// expiresAt.
func (s *URLSigner) UploadURL(key string, contentType string, expiresAt time.Time) string {
	return s.signedURL("PUT", key, contentType, expiresAt)
}

// ReadURL returns a read URL for key, valid until expiresAt.
func (s *URLSigner) ReadURL(key string, expiresAt time.Time) string {
	return s.signedURL("GET", key, "", expiresAt)
}

func (s *URLSigner) signedURL(method string, key string, contentType string, expiresAt time.Time) string {
	exp := expiresAt.Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	if contentType != "" {
		q.Set("ct", contentType)
	}
	q.Set("sig", s.signature(method, key, contentType, exp))
	return fmt.Sprintf("%s/%s?%s", s.publicURL, pathEscapeKey(key), q.Encode())
}

// VerifyUpload checks a write credential presented to the storage surface.
// Failures are tagged KindRejected so callers can tell a refused credential
// apart from a transport failure.
func (s *URLSigner) VerifyUpload(key string, contentType string, expRaw string, sig string) error {
	return s.verify("PUT", key, contentType, expRaw, sig)
}

// VerifyRead checks a read credential.
func (s *URLSigner) VerifyRead(key string, expRaw string, sig string) error {
	return s.verify("GET", key, "", expRaw, sig)
}

func (s *URLSigner) verify(method string, key string, contentType string, expRaw string, sig string) error {
	const op = "blobstore.verify"
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return merrors.New(merrors.KindRejected, op, "malformed expiry")
	}
	if time.Now().Unix() > exp {
		return merrors.New(merrors.KindRejected, op, "credential expired")
	}
	expected := s.signature(method, key, contentType, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return merrors.New(merrors.KindRejected, op, "signature mismatch")
	}
	return nil
}

func (s *URLSigner) signature(method string, key string, contentType string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", method, key, contentType, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func pathEscapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
