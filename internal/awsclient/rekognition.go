package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/session"
)

type rekognitionAPI interface {
	CreateFaceLivenessSession(ctx context.Context, in *rekognition.CreateFaceLivenessSessionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateFaceLivenessSessionOutput, error)
	GetFaceLivenessSessionResults(ctx context.Context, in *rekognition.GetFaceLivenessSessionResultsInput, optFns ...func(*rekognition.Options)) (*rekognition.GetFaceLivenessSessionResultsOutput, error)
	CompareFaces(ctx context.Context, in *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// Rekognition implements ports.LivenessService and ports.FaceComparer.
// Liveness audit output and compared images live in the artifact bucket.
type Rekognition struct {
	client rekognitionAPI
	bucket string
	logger *zap.Logger
}

// NewRekognition builds the adapter from an SDK config.
func NewRekognition(cfg aws.Config, bucket string, logger *zap.Logger) *Rekognition {
	return newRekognition(rekognition.NewFromConfig(cfg), bucket, logger)
}

func newRekognition(client rekognitionAPI, bucket string, logger *zap.Logger) *Rekognition {
	return &Rekognition{client: client, bucket: bucket, logger: logger.Named("rekognition")}
}

// CreateLivenessSession opens a liveness session whose reference image is
// written under {sessionID}/selfie. No client request token is sent, so
// every call yields a fresh handle.
func (r *Rekognition) CreateLivenessSession(ctx context.Context, sessionID string) (string, error) {
	out, err := r.client.CreateFaceLivenessSession(ctx, &rekognition.CreateFaceLivenessSessionInput{
		Settings: &types.CreateFaceLivenessSessionRequestSettings{
			AuditImagesLimit: aws.Int32(1),
			OutputConfig: &types.LivenessOutputConfig{
				S3Bucket:    aws.String(r.bucket),
				S3KeyPrefix: aws.String(session.LivenessOutputPrefix(sessionID)),
			},
		},
	})
	if err != nil {
		wrapped := logging.NewOperationError("rekognition.create_liveness_session", sessionID, err)
		r.logger.Error("create liveness session failed", zap.Error(wrapped))
		return "", wrapped
	}
	id := aws.ToString(out.SessionId)
	if id == "" {
		return "", logging.NewOperationError("rekognition.create_liveness_session", sessionID, fmt.Errorf("empty session id"))
	}
	return id, nil
}

// GetLivenessResults reads the confidence and reference image location.
func (r *Rekognition) GetLivenessResults(ctx context.Context, livenessSessionID string) (*ports.LivenessResult, error) {
	out, err := r.client.GetFaceLivenessSessionResults(ctx, &rekognition.GetFaceLivenessSessionResultsInput{
		SessionId: aws.String(livenessSessionID),
	})
	if err != nil {
		wrapped := logging.NewOperationError("rekognition.get_liveness_results", "", err)
		r.logger.Error("get liveness results failed", zap.Error(wrapped), zap.String("liveness_session_id", livenessSessionID))
		return nil, wrapped
	}

	result := &ports.LivenessResult{
		Confidence: float64(aws.ToFloat32(out.Confidence)),
		Status:     string(out.Status),
	}
	if ref := out.ReferenceImage; ref != nil && ref.S3Object != nil {
		result.ReferenceKey = aws.ToString(ref.S3Object.Name)
	}
	return result, nil
}

// CompareFaces compares the face in sourceKey against targetKey. Matched is
// true when Rekognition returns a match whose similarity exceeds threshold.
func (r *Rekognition) CompareFaces(ctx context.Context, sourceKey, targetKey string, threshold float64) (*ports.FaceMatch, error) {
	out, err := r.client.CompareFaces(ctx, &rekognition.CompareFacesInput{
		SourceImage:         r.image(sourceKey),
		TargetImage:         r.image(targetKey),
		SimilarityThreshold: aws.Float32(float32(threshold)),
	})
	if err != nil {
		wrapped := logging.NewOperationError("rekognition.compare_faces", "", err)
		r.logger.Error("compare faces failed", zap.Error(wrapped), zap.String("source", sourceKey), zap.String("target", targetKey))
		return nil, wrapped
	}

	match := &ports.FaceMatch{}
	for _, m := range out.FaceMatches {
		if s := float64(aws.ToFloat32(m.Similarity)); s > match.Similarity {
			match.Similarity = s
		}
	}
	match.Matched = match.Similarity > threshold
	return match, nil
}

func (r *Rekognition) image(key string) *types.Image {
	return &types.Image{S3Object: &types.S3Object{Bucket: aws.String(r.bucket), Name: aws.String(key)}}
}
