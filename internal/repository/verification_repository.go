package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idverify/internal/retry"
	"github.com/example/idverify/internal/session"
)

var (
	// ErrNotFound is returned when a session or profile row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSessionNotWaiting is returned when a capture-phase write targets a
	// session that already left waiting.
	ErrSessionNotWaiting = errors.New("session is not waiting for capture")
	// ErrFieldsAlreadyWritten is returned when extracted fields were already
	// persisted for the current generation.
	ErrFieldsAlreadyWritten = errors.New("extracted fields already written")
)

// VerificationSession is the persisted unit of work of one verification.
type VerificationSession struct {
	ID                string         `gorm:"primaryKey;size:36"`
	Status            session.Status `gorm:"column:status;type:varchar(16);index;not null"`
	ProfileID         *string        `gorm:"column:profile_id;size:64"`
	LivenessSessionID *string        `gorm:"column:liveness_session_id;size:128"`
	MatchConfidence   *float64       `gorm:"column:match_confidence"`
	// ExtractedFields is the JSON encoding of session.ExtractedFields.
	ExtractedFields *string   `gorm:"column:extracted_fields;type:text"`
	FailureReason   string    `gorm:"column:failure_reason;size:128"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (VerificationSession) TableName() string {
	return "verification_sessions"
}

// Fields decodes the persisted extracted fields, or returns nil when none
// were written.
func (s *VerificationSession) Fields() (*session.ExtractedFields, error) {
	if s.ExtractedFields == nil || *s.ExtractedFields == "" {
		return nil, nil
	}
	var fields session.ExtractedFields
	if err := json.Unmarshal([]byte(*s.ExtractedFields), &fields); err != nil {
		return nil, fmt.Errorf("decode extracted fields: %w", err)
	}
	return &fields, nil
}

// Profile is a pre-existing identity record a session can be checked against.
type Profile struct {
	ID         string `gorm:"primaryKey;size:64"`
	FullName   string `gorm:"column:name;size:256"`
	NationalID string `gorm:"column:national_id;size:32"`
}

// TableName overrides the default table name.
func (Profile) TableName() string {
	return "profiles"
}

// MetricsAggregation is the raw result of the sessions summary query.
type MetricsAggregation struct {
	TotalCount             int64
	SuccessCount           int64
	FailedCount            int64
	ErrorCount             int64
	InFlightCount          int64
	AverageMatchConfidence float64
}

// VerificationRepository persists sessions and reads profiles.
type VerificationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:     db,
		logger: logger.Named("verification_repository"),
		retry:  retry.DefaultPolicy(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationSession{}, &Profile{})
}

// Create inserts a new session row.
func (r *VerificationRepository) Create(ctx context.Context, s *VerificationSession) error {
	return r.executeWithRetry(ctx, "repository.create_session", s.ID, func() error {
		return r.db.WithContext(ctx).Create(s).Error
	})
}

// FindByID loads a session.
func (r *VerificationRepository) FindByID(ctx context.Context, id string) (*VerificationSession, error) {
	var s VerificationSession
	err := r.executeWithRetry(ctx, "repository.find_session", id, func() error {
		return r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TransitionStatus moves a session to `to` with a conditional update keyed
// on the prior statuses writer may move it from. When no row matched, the
// current row decides the error: ErrNotFound, session.ErrPipelineInProgress
// for a second processing claim, or session.ErrInvalidTransition.
//
// A transition to waiting starts a new generation and clears the previous
// run's fields, confidence and liveness handle.
func (r *VerificationRepository) TransitionStatus(ctx context.Context, id string, writer session.Writer, to session.Status, reason string) error {
	from := session.Predecessors(writer, to)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", session.ErrInvalidTransition, to)
	}
	prior := make([]string, len(from))
	for i, s := range from {
		prior[i] = string(s)
	}

	updates := map[string]any{
		"status":         string(to),
		"failure_reason": reason,
		"updated_at":     time.Now().UTC(),
	}
	if to == session.StatusWaiting {
		updates["failure_reason"] = ""
		updates["extracted_fields"] = nil
		updates["match_confidence"] = nil
		updates["liveness_session_id"] = nil
	}

	var affected int64
	err := r.executeWithRetry(ctx, "repository.transition_status", id, func() error {
		res := r.db.WithContext(ctx).
			Model(&VerificationSession{}).
			Where("id = ? AND status IN ?", id, prior).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == session.StatusProcessing && to == session.StatusProcessing {
		return session.ErrPipelineInProgress
	}
	return fmt.Errorf("%w: %s -> %s", session.ErrInvalidTransition, current.Status, to)
}

// SetLivenessSession records the liveness handle, superseding any previous
// one. Only sessions still waiting for capture accept a new handle.
func (r *VerificationRepository) SetLivenessSession(ctx context.Context, id, livenessSessionID string) error {
	return r.conditionalUpdate(ctx, "repository.set_liveness_session", id,
		"status = ?", []any{string(session.StatusWaiting)},
		map[string]any{"liveness_session_id": livenessSessionID, "updated_at": time.Now().UTC()},
		ErrSessionNotWaiting,
	)
}

// SaveMatchConfidence stores the face similarity of the running pipeline.
func (r *VerificationRepository) SaveMatchConfidence(ctx context.Context, id string, confidence float64) error {
	return r.conditionalUpdate(ctx, "repository.save_match_confidence", id,
		"status = ?", []any{string(session.StatusProcessing)},
		map[string]any{"match_confidence": confidence, "updated_at": time.Now().UTC()},
		session.ErrInvalidTransition,
	)
}

// SaveExtractedFields writes the extracted fields once per generation.
func (r *VerificationRepository) SaveExtractedFields(ctx context.Context, id string, fields *session.ExtractedFields) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode extracted fields: %w", err)
	}
	return r.conditionalUpdate(ctx, "repository.save_extracted_fields", id,
		"extracted_fields IS NULL", nil,
		map[string]any{"extracted_fields": string(encoded), "updated_at": time.Now().UTC()},
		ErrFieldsAlreadyWritten,
	)
}

func (r *VerificationRepository) conditionalUpdate(ctx context.Context, operation, id, cond string, args []any, updates map[string]any, mismatch error) error {
	var affected int64
	err := r.executeWithRetry(ctx, operation, id, func() error {
		res := r.db.WithContext(ctx).
			Model(&VerificationSession{}).
			Where("id = ?", id).
			Where(cond, args...).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return mismatch
}

// FindProfile loads a claimed identity.
func (r *VerificationRepository) FindProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := r.executeWithRetry(ctx, "repository.find_profile", "", func() error {
		return r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile upserts a profile.
func (r *VerificationRepository) SaveProfile(ctx context.Context, p *Profile) error {
	return r.executeWithRetry(ctx, "repository.save_profile", "", func() error {
		return r.db.WithContext(ctx).Save(p).Error
	})
}

// AggregateMetrics summarises sessions by status.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationSession{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS error_count,
				COALESCE(SUM(CASE WHEN status IN ? THEN 1 ELSE 0 END), 0) AS in_flight_count,
				COALESCE(AVG(match_confidence), 0) AS average_match_confidence`,
				string(session.StatusSuccess),
				string(session.StatusFailed),
				string(session.StatusError),
				[]string{string(session.StatusWaiting), string(session.StatusProcessing)},
			).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	notFound := false
	err := retry.Do(ctx, r.logger, r.retry, operation, sessionID, func() error {
		err := fn()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if notFound {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CurrentStatus reads the status and failure reason of a session.
func (r *VerificationRepository) CurrentStatus(ctx context.Context, id string) (session.Status, string, error) {
	s, err := r.FindByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	return s.Status, s.FailureReason, nil
}
