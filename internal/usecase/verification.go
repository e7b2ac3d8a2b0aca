package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/retry"
	"github.com/example/idverify/internal/session"
)

// ErrInvalidRequest marks caller input that cannot start an operation.
var ErrInvalidRequest = errors.New("invalid request")

const snapshotTTL = 5 * time.Minute

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	Create(ctx context.Context, s *repository.VerificationSession) error
	FindByID(ctx context.Context, id string) (*repository.VerificationSession, error)
	TransitionStatus(ctx context.Context, id string, writer session.Writer, to session.Status, reason string) error
	SetLivenessSession(ctx context.Context, id, livenessSessionID string) error
	SaveMatchConfidence(ctx context.Context, id string, confidence float64) error
	SaveExtractedFields(ctx context.Context, id string, fields *session.ExtractedFields) error
	FindProfile(ctx context.Context, id string) (*repository.Profile, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// CaptureTokenIssuer signs the per-session token handed to the capture device.
type CaptureTokenIssuer interface {
	Issue(sessionID string) (string, time.Time, error)
}

// Dependencies groups the collaborators of VerificationUseCase.
type Dependencies struct {
	Repo       VerificationRepository
	Cache      Cache
	Liveness   ports.LivenessService
	Faces      ports.FaceComparer
	Store      ports.ObjectStore
	Extractor  ports.DocumentExtractor
	Publisher  ports.StatusPublisher
	Subscriber ports.StatusSubscriber
	Tokens     CaptureTokenIssuer
	Metrics    *Metrics
	Thresholds config.Thresholds
	// AppURL is the public base URL of the capture web app.
	AppURL string
}

// VerificationUseCase encapsulates the session lifecycle and the
// verification pipeline.
type VerificationUseCase struct {
	repo       VerificationRepository
	cache      Cache
	liveness   ports.LivenessService
	faces      ports.FaceComparer
	store      ports.ObjectStore
	extractor  ports.DocumentExtractor
	publisher  ports.StatusPublisher
	subscriber ports.StatusSubscriber
	tokens     CaptureTokenIssuer
	metrics    *Metrics
	thresholds config.Thresholds
	appURL     string
	logger     *zap.Logger
	retry      retry.Policy
	now        func() time.Time
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(deps Dependencies, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:       deps.Repo,
		cache:      deps.Cache,
		liveness:   deps.Liveness,
		faces:      deps.Faces,
		store:      deps.Store,
		extractor:  deps.Extractor,
		publisher:  deps.Publisher,
		subscriber: deps.Subscriber,
		tokens:     deps.Tokens,
		metrics:    deps.Metrics,
		thresholds: deps.Thresholds,
		appURL:     deps.AppURL,
		logger:     logger.Named("verification_usecase"),
		retry:      retry.DefaultPolicy(),
		now:        time.Now,
	}
}

// SessionView is the externally visible snapshot of a session.
type SessionView struct {
	ID                string                   `json:"id"`
	Status            session.Status           `json:"status"`
	ProfileID         string                   `json:"profile_id,omitempty"`
	LivenessSessionID string                   `json:"liveness_session_id,omitempty"`
	MatchConfidence   *float64                 `json:"match_confidence,omitempty"`
	ExtractedFields   *session.ExtractedFields `json:"extracted_fields,omitempty"`
	Reason            string                   `json:"reason,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

func viewOf(row *repository.VerificationSession) (*SessionView, error) {
	fields, err := row.Fields()
	if err != nil {
		return nil, err
	}
	v := &SessionView{
		ID:              row.ID,
		Status:          row.Status,
		MatchConfidence: row.MatchConfidence,
		ExtractedFields: fields,
		Reason:          row.FailureReason,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ProfileID != nil {
		v.ProfileID = *row.ProfileID
	}
	if row.LivenessSessionID != nil {
		v.LivenessSessionID = *row.LivenessSessionID
	}
	return v, nil
}

// StartedSession is returned to the initiating device.
type StartedSession struct {
	Session      *SessionView `json:"session"`
	CaptureToken string       `json:"capture_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	// MobileURL opens the capture flow on the phone, usually via QR code.
	MobileURL string `json:"mobile_url"`
}

// StartSession creates a waiting session and the capture handoff link.
func (uc *VerificationUseCase) StartSession(ctx context.Context, profileID string) (*StartedSession, error) {
	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.start_session", id)

	now := uc.now().UTC()
	row := &repository.VerificationSession{ID: id, Status: session.StatusWaiting, CreatedAt: now, UpdatedAt: now}
	if profileID != "" {
		row.ProfileID = &profileID
	}
	if err := uc.repo.Create(ctx, row); err != nil {
		wrapped := logging.NewOperationError("usecase.create_session", id, err)
		opLogger.Error("failed to persist session", zap.Error(wrapped))
		return nil, wrapped
	}

	token, expiresAt, err := uc.tokens.Issue(id)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.issue_capture_token", id, err)
		opLogger.Error("failed to issue capture token", zap.Error(wrapped))
		return nil, wrapped
	}

	view, err := viewOf(row)
	if err != nil {
		return nil, err
	}
	uc.cacheSnapshot(ctx, view)
	opLogger.Info("session started", zap.Bool("has_profile", profileID != ""))

	return &StartedSession{
		Session:      view,
		CaptureToken: token,
		ExpiresAt:    expiresAt,
		MobileURL:    fmt.Sprintf("%s/kyc/mobile/%s?token=%s", uc.appURL, id, url.QueryEscape(token)),
	}, nil
}

// GetSession returns the session snapshot, from cache when fresh.
func (uc *VerificationUseCase) GetSession(ctx context.Context, id string) (*SessionView, error) {
	cacheKey := snapshotKey(id)
	if cached, err := uc.withRedisGet(ctx, id, "cache.get.session", cacheKey); err == nil {
		var view SessionView
		if err := json.Unmarshal([]byte(cached), &view); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_session", id).Warn("failed to decode cached session", zap.Error(err))
		} else {
			return &view, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_session", id).Warn("failed to read cache", zap.Error(err))
	}

	return uc.loadSession(ctx, id)
}

func (uc *VerificationUseCase) loadSession(ctx context.Context, id string) (*SessionView, error) {
	row, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view, err := viewOf(row)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_session", id, err)
	}
	uc.cacheSnapshot(ctx, view)
	return view, nil
}

// SetSessionStatus is the explicit client status write. failed and error
// are accepted only while the session is waiting, so a running pipeline is
// never preempted; waiting from failed or error restarts the session with a
// clean generation.
func (uc *VerificationUseCase) SetSessionStatus(ctx context.Context, id string, status session.Status, reason string) (*SessionView, error) {
	if !session.ClientSettable(status) {
		return nil, fmt.Errorf("%w: %s", session.ErrStatusNotClientSettable, status)
	}
	if status == session.StatusWaiting {
		reason = ""
	}

	opLogger := logging.WithOperation(uc.logger, "usecase.set_session_status", id)
	if err := uc.repo.TransitionStatus(ctx, id, session.WriterClient, status, reason); err != nil {
		opLogger.Warn("status write rejected", zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	uc.afterWrite(ctx, id, status, reason)
	opLogger.Info("status set by client", zap.String("status", string(status)), zap.String("reason", reason))

	return uc.loadSession(ctx, id)
}

// PresignedUpload tells the capture client where to PUT an artifact.
type PresignedUpload struct {
	Key       string `json:"key"`
	UploadURL string `json:"upload_url"`
}

// PresignArtifactUpload issues an upload URL for a captured artifact of a
// waiting session. The reference image is written by the liveness service
// and cannot be uploaded.
func (uc *VerificationUseCase) PresignArtifactUpload(ctx context.Context, id string, kind session.ArtifactKind, contentType string) (*PresignedUpload, error) {
	if kind == session.KindReference {
		return nil, fmt.Errorf("%w: %s is not uploadable", session.ErrUnknownArtifactKind, kind)
	}
	ext, err := session.ExtensionFor(contentType)
	if err != nil {
		return nil, err
	}

	view, err := uc.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Status != session.StatusWaiting {
		return nil, repository.ErrSessionNotWaiting
	}

	key := session.ArtifactKey(id, kind, ext)
	uploadURL, err := uc.store.PresignUpload(ctx, key, contentType)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.presign_upload", id, err)
		logging.WithOperation(uc.logger, "usecase.presign_upload", id).Error("presign failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return &PresignedUpload{Key: key, UploadURL: uploadURL}, nil
}

// CreateLivenessSession opens a fresh liveness session and remembers its
// handle, superseding the previous one.
func (uc *VerificationUseCase) CreateLivenessSession(ctx context.Context, id string) (string, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.create_liveness_session", id)

	row, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if row.Status != session.StatusWaiting {
		return "", repository.ErrSessionNotWaiting
	}

	handle, err := uc.liveness.CreateLivenessSession(ctx, id)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.create_liveness_session", id, err)
		opLogger.Error("liveness session creation failed", zap.Error(wrapped))
		return "", wrapped
	}
	if err := uc.repo.SetLivenessSession(ctx, id, handle); err != nil {
		opLogger.Error("failed to store liveness handle", zap.Error(err))
		return "", err
	}
	uc.invalidate(ctx, id)

	if row.LivenessSessionID != nil && *row.LivenessSessionID != handle {
		opLogger.Info("liveness handle superseded", zap.String("previous", *row.LivenessSessionID), zap.String("liveness_session_id", handle))
	} else {
		opLogger.Info("liveness session created", zap.String("liveness_session_id", handle))
	}
	return handle, nil
}

// WatchSession streams a session's snapshot followed by every status
// transition. The stream closes after a terminal status or when ctx ends.
func (uc *VerificationUseCase) WatchSession(ctx context.Context, id string) (<-chan ports.StatusEvent, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	events, err := uc.subscriber.Subscribe(watchCtx, id)
	if err != nil {
		cancel()
		return nil, err
	}
	// Subscribe first so a transition between the two reads is not lost.
	current, err := uc.loadSession(watchCtx, id)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan ports.StatusEvent, 4)
	go func() {
		defer cancel()
		defer close(out)

		last := ports.StatusEvent{SessionID: id, Status: current.Status, Reason: current.Reason, At: current.UpdatedAt.UnixMilli()}
		select {
		case out <- last:
		case <-watchCtx.Done():
			return
		}
		if last.Status.IsTerminal() {
			return
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Status == last.Status && ev.Reason == last.Reason {
					continue
				}
				last = ev
				select {
				case out <- ev:
				case <-watchCtx.Done():
					return
				}
				if ev.Status.IsTerminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

// afterWrite drops the cached snapshot and notifies observers. Failures are
// logged; the database row stays authoritative.
func (uc *VerificationUseCase) afterWrite(ctx context.Context, id string, status session.Status, reason string) {
	uc.invalidate(ctx, id)
	event := ports.StatusEvent{SessionID: id, Status: status, Reason: reason, At: uc.now().UnixMilli()}
	if err := uc.publisher.Publish(ctx, event); err != nil {
		logging.WithOperation(uc.logger, "usecase.publish_status", id).Warn("failed to publish status", zap.Error(err))
	}
}

func (uc *VerificationUseCase) invalidate(ctx context.Context, id string) {
	if err := uc.withRedisRetry(ctx, id, "cache.del.session", func() error {
		return uc.cache.Del(ctx, snapshotKey(id))
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.invalidate", id).Warn("failed to drop cached session", zap.Error(err))
	}
}

func (uc *VerificationUseCase) cacheSnapshot(ctx context.Context, view *SessionView) {
	serialized, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := uc.withRedisRetry(ctx, view.ID, "cache.set.session", func() error {
		return uc.cache.Set(ctx, snapshotKey(view.ID), string(serialized), snapshotTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_session", view.ID).Warn("failed to cache session", zap.Error(err))
	}
}

func snapshotKey(id string) string {
	return fmt.Sprintf("session:snapshot:%s", id)
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.logger, uc.retry, operation, sessionID, fn)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, sessionID, operation, cacheKey string) (string, error) {
	var result string
	miss := false
	err := uc.withRedisRetry(ctx, sessionID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return result, nil
}
