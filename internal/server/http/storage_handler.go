package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
	"murmur/internal/storage/blobstore"
)

// maxObjectBytes bounds a single direct upload.
const maxObjectBytes = 64 << 20 // 64 MiB

// StorageHandler is the dev storage surface honoring signed object URLs.
// This is where credentials are enforced: a stale or mis-scoped grant is
// rejected here, never by the issuer.
type StorageHandler struct {
	store  *blobstore.FilesystemStore
	logger logging.Logger
}

// NewStorageHandler creates the storage surface over a filesystem store.
func NewStorageHandler(store *blobstore.FilesystemStore, logger logging.Logger) *StorageHandler {
	return &StorageHandler{
		store:  store,
		logger: logging.OrNop(logger),
	}
}

// HandlePut handles PUT /storage/*key - the direct upload leg.
func (h *StorageHandler) HandlePut(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	contentType := c.ContentType()

	if err := h.store.Signer().VerifyUpload(key, contentType, c.Query("exp"), c.Query("sig")); err != nil {
		h.logger.Warn("storage: refused upload for %s: %v", key, err)
		c.JSON(http.StatusForbidden, gin.H{"error": merrors.Detail(err), "kind": merrors.KindOf(err)})
		return
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxObjectBytes)
	defer func() { _ = body.Close() }()

	err := h.store.PutObject(c.Request.Context(), key, body, blobstore.PutOptions{
		ContentType:   contentType,
		ContentLength: c.Request.ContentLength,
	})
	if err != nil {
		h.logger.Error("storage: write %s failed: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": merrors.Detail(err), "kind": merrors.KindOf(err)})
		return
	}

	c.Status(http.StatusOK)
}

// HandleGet handles GET /storage/*key - the signed read leg.
func (h *StorageHandler) HandleGet(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	if err := h.store.Signer().VerifyRead(key, c.Query("exp"), c.Query("sig")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": merrors.Detail(err), "kind": merrors.KindOf(err)})
		return
	}

	object, info, err := h.store.GetObject(c.Request.Context(), key)
	if err != nil {
		if merrors.IsKind(err, merrors.KindSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found", "kind": merrors.KindSourceNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": merrors.Detail(err), "kind": merrors.KindOf(err)})
		return
	}
	defer func() { _ = object.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, object, nil)
}
