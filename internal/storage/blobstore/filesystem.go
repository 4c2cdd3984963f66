package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	merrors "murmur/internal/errors"
)

// FilesystemStore implements BlobStore by writing files to the local disk. It
// backs development and single-node deployments; the signed-URL contract is
// the same one a cloud object store would honor.
type FilesystemStore struct {
	baseDir string
	signer  *URLSigner
}

// NewFilesystemStore creates a new store rooted at the provided base directory.
func NewFilesystemStore(baseDir string, signer *URLSigner) (*FilesystemStore, error) {
	if baseDir == "" {
		baseDir = "data/blobs"
	}
	if signer == nil {
		return nil, fmt.Errorf("blobstore: signer is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir, signer: signer}, nil
}

// Signer exposes the store's URL signer so the storage HTTP surface can
// verify presented credentials.
func (s *FilesystemStore) Signer() *URLSigner {
	return s.signer
}

func (s *FilesystemStore) PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return merrors.Wrap(merrors.KindStorage, "blobstore.put", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return merrors.Wrap(merrors.KindStorage, "blobstore.put", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return merrors.Wrap(merrors.KindStorage, "blobstore.put", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return merrors.Wrap(merrors.KindStorage, "blobstore.put", err)
	}
	if opts.ContentType != "" {
		if err := os.WriteFile(path+metaSuffix, []byte(opts.ContentType), 0o644); err != nil {
			return merrors.Wrap(merrors.KindStorage, "blobstore.put", err)
		}
	}
	return nil
}

func (s *FilesystemStore) GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.StatObject(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	path, err := s.objectPath(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, merrors.Wrapf(merrors.KindSourceNotFound, "blobstore.get", err, "object %s not found", key)
		}
		return nil, ObjectInfo{}, merrors.Wrap(merrors.KindStorage, "blobstore.get", err)
	}
	return f, info, nil
}

func (s *FilesystemStore) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, merrors.Wrapf(merrors.KindSourceNotFound, "blobstore.stat", err, "object %s not found", key)
		}
		return ObjectInfo{}, merrors.Wrap(merrors.KindStorage, "blobstore.stat", err)
	}
	info := ObjectInfo{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}
	if meta, err := os.ReadFile(path + metaSuffix); err == nil {
		info.ContentType = string(meta)
	}
	return info, nil
}

func (s *FilesystemStore) SignedUploadURL(ctx context.Context, key string, contentType string, expiry time.Duration) (string, error) {
	if _, err := s.objectPath(key); err != nil {
		return "", err
	}
	return s.signer.UploadURL(key, contentType, time.Now().Add(expiry)), nil
}

func (s *FilesystemStore) SignedReadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.objectPath(key); err != nil {
		return "", err
	}
	return s.signer.ReadURL(key, time.Now().Add(expiry)), nil
}

func (s *FilesystemStore) DeleteObject(ctx context.Context, key string) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return merrors.Wrap(merrors.KindStorage, "blobstore.delete", err)
	}
	_ = os.Remove(path + metaSuffix)
	return nil
}

const metaSuffix = ".meta"

// objectPath resolves key inside baseDir and rejects traversal outside it.
func (s *FilesystemStore) objectPath(key string) (string, error) {
	if key == "" {
		return "", merrors.New(merrors.KindInvalidInput, "blobstore.key", "object key is empty")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", merrors.New(merrors.KindInvalidInput, "blobstore.key", "object key escapes store root")
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
