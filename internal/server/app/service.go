package app

import (
	"context"
	"strings"

	"murmur/internal/async"
	merrors "murmur/internal/errors"
	"murmur/internal/logging"
	"murmur/internal/observability"
	"murmur/internal/pipeline"
	"murmur/internal/upload"
)

// MediaService is the application facade behind the HTTP handlers: it issues
// grants, registers submissions, launches exactly one coordinator per task,
// and serves polls.
type MediaService struct {
	registry    pipeline.Registry
	coordinator *pipeline.Coordinator
	issuer      *upload.Issuer
	logger      logging.Logger
	metrics     *observability.MetricsCollector
}

// NewMediaService wires the service together.
func NewMediaService(registry pipeline.Registry, coordinator *pipeline.Coordinator, issuer *upload.Issuer, logger logging.Logger, metrics *observability.MetricsCollector) *MediaService {
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	return &MediaService{
		registry:    registry,
		coordinator: coordinator,
		issuer:      issuer,
		logger:      logging.OrNop(logger),
		metrics:     metrics,
	}
}

// IssueGrant mints an upload credential. Failures surface synchronously; no
// task exists at this point.
func (s *MediaService) IssueGrant(ctx context.Context, fileName string, contentType string) (upload.Grant, error) {
	grant, err := s.issuer.Issue(ctx, fileName, contentType)
	if err != nil {
		return upload.Grant{}, err
	}
	s.metrics.RecordGrantIssued(ctx, grant.ContentType)
	return grant, nil
}

// SubmitRecording registers a task for an uploaded object and launches its
// coordinator. It returns immediately with the pending snapshot; the
// background goroutine owns all further mutations. The server does not
// verify the object synchronously; a bogus object key fails the task in its
// first stage.
func (s *MediaService) SubmitRecording(ctx context.Context, objectKey string, hint pipeline.SubmissionHint) (pipeline.Task, error) {
	const op = "app.submit"

	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return pipeline.Task{}, merrors.New(merrors.KindInvalidInput, op, "object key is required")
	}
	if strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
		return pipeline.Task{}, merrors.New(merrors.KindInvalidInput, op, "malformed object key")
	}

	task, err := s.registry.Create(ctx, objectKey, hint)
	if err != nil {
		return pipeline.Task{}, err
	}

	s.logger.Info("task %s: created for %s", task.ID, objectKey)

	// Detach from the request context so processing outlives the handler. A
	// process restart loses this work; that is the accepted durability scope.
	taskCtx := context.WithoutCancel(ctx)
	taskID := task.ID
	async.GoWithFallback(s.logger, "pipeline.run", func() {
		s.coordinator.Run(taskCtx, taskID, objectKey)
	}, func(recovered any) {
		_ = s.registry.SetError(taskCtx, taskID, merrors.KindInternal, "processing aborted unexpectedly")
	})

	return task, nil
}

// Poll returns the current task snapshot. Read-only; an unknown or evicted
// id is a normal not-found, not a server error.
func (s *MediaService) Poll(ctx context.Context, taskID string) (pipeline.Task, error) {
	return s.registry.Get(ctx, taskID)
}
