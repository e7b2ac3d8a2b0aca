// Package ports declares the external capabilities the verification flow
// consumes. Concrete vendors live in awsclient, genaiclient and
// statuschannel; tests substitute stubs.
package ports

import (
	"context"
	"errors"

	"github.com/example/idverify/internal/session"
)

// ErrExtractionFailed marks an extraction that ran but produced nothing
// usable. It is a business rejection, not an infrastructure fault.
var ErrExtractionFailed = errors.New("document extraction failed")

// LivenessResult is the outcome of a completed liveness session.
type LivenessResult struct {
	Confidence float64
	Status     string
	// ReferenceKey is the storage key of the reference selfie, when the
	// service reports where it wrote one.
	ReferenceKey string
}

// LivenessService creates and reads biometric liveness sessions.
type LivenessService interface {
	CreateLivenessSession(ctx context.Context, sessionID string) (string, error)
	GetLivenessResults(ctx context.Context, livenessSessionID string) (*LivenessResult, error)
}

// FaceMatch is the result of comparing two face images.
type FaceMatch struct {
	Matched    bool
	Similarity float64
}

// FaceComparer compares the face in a source image against a target image,
// both referenced by storage key.
type FaceComparer interface {
	CompareFaces(ctx context.Context, sourceKey, targetKey string, similarityThreshold float64) (*FaceMatch, error)
}

// ObjectStore issues upload URLs and reads stored artifacts.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// DocumentExtractor reads structured fields from both sides of an ID.
type DocumentExtractor interface {
	ExtractFields(ctx context.Context, front, back []byte) (*session.ExtractedFields, error)
}

// StatusEvent is one published status transition of a session.
type StatusEvent struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	At        int64          `json:"at"`
}

// StatusPublisher pushes status transitions to observers.
type StatusPublisher interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// StatusSubscriber delivers the transitions of one session until ctx ends.
type StatusSubscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan StatusEvent, error)
}
