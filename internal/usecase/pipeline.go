package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/session"
)

// Rejection reasons written with a failed status.
const (
	ReasonLivenessFailed = "liveness check failed"
	ReasonFaceMismatch   = "face comparison failed"
	ReasonOCRFailed      = "OCR extraction failed"
	ReasonInfoMismatch   = "information mismatch"
	ReasonInternalError  = "internal error"
)

const cleanupTimeout = 5 * time.Second

// PipelineRequest identifies one verification attempt. LivenessSessionID
// falls back to the handle stored on the session. ProfileID is only used
// when the session carries no claim; a different one is rejected.
type PipelineRequest struct {
	SessionID         string `json:"session_id"`
	LivenessSessionID string `json:"liveness_session_id"`
	ProfileID         string `json:"profile_id"`
	IDFrontKey        string `json:"id_front_key"`
	IDBackKey         string `json:"id_back_key"`
}

func (r PipelineRequest) validate() error {
	var missing []string
	if r.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if r.IDFrontKey == "" {
		missing = append(missing, "id_front_key")
	}
	if r.IDBackKey == "" {
		missing = append(missing, "id_back_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrInvalidRequest, missing)
	}
	return nil
}

// Outcome is the structured result of a pipeline run. Business rejections
// are outcomes, not errors.
type Outcome struct {
	Success bool           `json:"success"`
	Status  session.Status `json:"status"`
	Reason  string         `json:"error,omitempty"`
	// Confidence is the face similarity, once face comparison has run.
	Confidence *float64 `json:"confidence,omitempty"`
}

// RunPipeline executes one verification attempt: mark processing, check
// liveness, compare faces, extract document fields, persist them, and
// compare against the claimed profile. The first failing stage ends the run
// with a failed status. An infrastructure error moves the session to error
// before it is returned.
//
// The processing write is conditional on the session being waiting, so a
// concurrent second run gets session.ErrPipelineInProgress before any
// external call.
func (uc *VerificationUseCase) RunPipeline(ctx context.Context, req PipelineRequest) (outcome *Outcome, err error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	id := req.SessionID
	opLogger := logging.WithOperation(uc.logger, "usecase.run_pipeline", id)

	row, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	livenessID := req.LivenessSessionID
	if livenessID == "" && row.LivenessSessionID != nil {
		livenessID = *row.LivenessSessionID
	}
	if livenessID == "" {
		return nil, fmt.Errorf("%w: no liveness session", ErrInvalidRequest)
	}
	// The claim recorded by the operator at session start is authoritative;
	// the capture client may not substitute another profile.
	profileID := req.ProfileID
	if row.ProfileID != nil && *row.ProfileID != "" {
		if profileID != "" && profileID != *row.ProfileID {
			opLogger.Warn("claimed profile mismatch", zap.String("profile_id", profileID))
			return nil, fmt.Errorf("%w: profile does not match the session claim", ErrInvalidRequest)
		}
		profileID = *row.ProfileID
	}

	if err := uc.repo.TransitionStatus(ctx, id, session.WriterPipeline, session.StatusProcessing, ""); err != nil {
		opLogger.Warn("pipeline not started", zap.Error(err))
		return nil, err
	}
	uc.afterWrite(ctx, id, session.StatusProcessing, "")
	started := uc.now()
	opLogger.Info("pipeline started", zap.String("liveness_session_id", livenessID))

	defer func() {
		uc.metrics.ObserveRun(uc.now().Sub(started))
		if err == nil {
			return
		}
		uc.metrics.IncrementOutcome(string(session.StatusError), ReasonInternalError)
		opLogger.Error("pipeline aborted", zap.Error(err))

		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if terr := uc.repo.TransitionStatus(cleanupCtx, id, session.WriterPipeline, session.StatusError, ReasonInternalError); terr != nil {
			opLogger.Error("failed to record error status", zap.Error(terr))
			return
		}
		uc.afterWrite(cleanupCtx, id, session.StatusError, ReasonInternalError)
	}()

	// Liveness
	stage := uc.now()
	liveness, err := uc.liveness.GetLivenessResults(ctx, livenessID)
	uc.metrics.ObserveStage("liveness", uc.now().Sub(stage))
	if err != nil {
		return nil, logging.NewOperationError("usecase.liveness_results", id, err)
	}
	opLogger.Info("liveness result", zap.Float64("confidence", liveness.Confidence), zap.String("liveness_status", liveness.Status))
	if !(liveness.Confidence > uc.thresholds.LivenessThreshold) {
		return uc.finish(ctx, opLogger, id, session.StatusFailed, ReasonLivenessFailed, nil)
	}

	// Face comparison
	referenceKey := liveness.ReferenceKey
	if referenceKey == "" {
		referenceKey = session.ReferenceKey(id, livenessID)
	}
	stage = uc.now()
	match, err := uc.faces.CompareFaces(ctx, req.IDFrontKey, referenceKey, uc.thresholds.SimilarityThreshold)
	uc.metrics.ObserveStage("face_compare", uc.now().Sub(stage))
	if err != nil {
		return nil, logging.NewOperationError("usecase.compare_faces", id, err)
	}
	similarity := match.Similarity
	if err := uc.repo.SaveMatchConfidence(ctx, id, similarity); err != nil {
		return nil, logging.NewOperationError("usecase.save_match_confidence", id, err)
	}
	opLogger.Info("face comparison result", zap.Float64("similarity", similarity))
	if !(similarity > uc.thresholds.SimilarityThreshold) {
		return uc.finish(ctx, opLogger, id, session.StatusFailed, ReasonFaceMismatch, &similarity)
	}

	// Documents
	stage = uc.now()
	front, back, err := uc.fetchDocuments(ctx, req.IDFrontKey, req.IDBackKey)
	uc.metrics.ObserveStage("fetch_documents", uc.now().Sub(stage))
	if err != nil {
		return nil, logging.NewOperationError("usecase.fetch_documents", id, err)
	}

	stage = uc.now()
	fields, err := uc.extractor.ExtractFields(ctx, front, back)
	uc.metrics.ObserveStage("extract", uc.now().Sub(stage))
	switch {
	case errors.Is(err, ports.ErrExtractionFailed), err == nil && fields.IsEmpty():
		opLogger.Warn("document extraction empty", zap.Error(err))
		return uc.finish(ctx, opLogger, id, session.StatusFailed, ReasonOCRFailed, &similarity)
	case err != nil:
		return nil, logging.NewOperationError("usecase.extract_fields", id, err)
	}
	if err := uc.repo.SaveExtractedFields(ctx, id, fields); err != nil {
		return nil, logging.NewOperationError("usecase.save_extracted_fields", id, err)
	}

	// Profile comparison
	stage = uc.now()
	matched, err := uc.profileMatches(ctx, profileID, fields)
	uc.metrics.ObserveStage("profile", uc.now().Sub(stage))
	if err != nil {
		return nil, logging.NewOperationError("usecase.find_profile", id, err)
	}
	if !matched {
		return uc.finish(ctx, opLogger, id, session.StatusFailed, ReasonInfoMismatch, &similarity)
	}

	return uc.finish(ctx, opLogger, id, session.StatusSuccess, "", &similarity)
}

func (uc *VerificationUseCase) fetchDocuments(ctx context.Context, frontKey, backKey string) ([]byte, []byte, error) {
	var front, back []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := uc.store.GetObject(gctx, frontKey)
		front = data
		return err
	})
	g.Go(func() error {
		data, err := uc.store.GetObject(gctx, backKey)
		back = data
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return front, back, nil
}

// profileMatches fails closed: no profile id or no profile row never
// matches.
func (uc *VerificationUseCase) profileMatches(ctx context.Context, profileID string, fields *session.ExtractedFields) (bool, error) {
	if profileID == "" {
		return false, nil
	}
	profile, err := uc.repo.FindProfile(ctx, profileID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.NameMatches(profile.FullName, fields.Name), nil
}

func (uc *VerificationUseCase) finish(ctx context.Context, opLogger *zap.Logger, id string, status session.Status, reason string, confidence *float64) (*Outcome, error) {
	if err := uc.repo.TransitionStatus(ctx, id, session.WriterPipeline, status, reason); err != nil {
		return nil, logging.NewOperationError("usecase.finish", id, err)
	}
	uc.afterWrite(ctx, id, status, reason)
	uc.metrics.IncrementOutcome(string(status), reason)

	if status == session.StatusSuccess {
		opLogger.Info("verification succeeded")
	} else {
		opLogger.Warn("verification rejected", zap.String("reason", reason))
	}
	return &Outcome{Success: status == session.StatusSuccess, Status: status, Reason: reason, Confidence: confidence}, nil
}
