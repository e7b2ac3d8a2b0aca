package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/inference"
	"github.com/example/idverify/internal/session"
)

var (
	// ErrCameraPermission is returned by camera openers when access was refused.
	ErrCameraPermission = errors.New("camera permission denied")
	// ErrConnectionFailed marks an inference stream that could not be opened
	// or dropped mid-task.
	ErrConnectionFailed = errors.New("inference connection failed")
	// ErrNoStillImage is returned when a capture decision fired but no image
	// could be extracted.
	ErrNoStillImage = errors.New("no still image available")
)

// Feedback texts for task-level states.
const (
	FeedbackStarting         = "Starting camera..."
	FeedbackCameraPermission = "Camera access was denied. Allow camera access and try again."
	FeedbackConnection       = "Failed to start camera or inference"
	FeedbackCaptureFailed    = "Capture failed. Please try again."
)

// Facing selects which camera to open.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Camera is an acquired camera handle.
type Camera interface {
	// Source names the feed for the inference worker.
	Source() string
	Snapshot(ctx context.Context) ([]byte, error)
	Close() error
}

// CameraOpener acquires cameras. Open wraps ErrCameraPermission when the
// device refused access.
type CameraOpener interface {
	Open(ctx context.Context, facing Facing) (Camera, error)
}

// TaskState is the lifecycle of one capture task.
type TaskState string

const (
	StateInitializing TaskState = "initializing"
	StateDetecting    TaskState = "detecting"
	StateCaptured     TaskState = "captured"
	StateFailed       TaskState = "failed"
)

// FailureKind tells the caller which guidance to show after StateFailed.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureCameraPermission FailureKind = "camera-permission"
	FailureConnection       FailureKind = "connection"
	FailureCapture          FailureKind = "capture"
)

// Artifact is a captured still ready for upload.
type Artifact struct {
	Side        session.Side
	Kind        session.ArtifactKind
	ContentType string
	Data        []byte
}

// Submitter hands a captured artifact to object storage and returns its key.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, artifact Artifact) (string, error)
}

// Update is one event of a running capture task.
type Update struct {
	Side      session.Side
	State     TaskState
	Feedback  string
	Judgement Judgement
	HoldCount int
	// Variance is the sharpness score of the judged frame, when reported.
	Variance  *float64
	Failure   FailureKind
	Err       error
	Artifact  *Artifact
}

// SessionConfig configures a capture Session.
type SessionConfig struct {
	Thresholds config.Thresholds
	// Params carries the workflow selection; Source and Side are filled per task.
	Params         inference.Params
	Facing         Facing
	TrackerOptions []TrackerOption
}

// Session binds a StabilityTracker to a camera and a live inference stream.
// At most one task runs at a time; starting a task tears down the previous
// one before acquiring new resources.
type Session struct {
	cameras   CameraOpener
	connector inference.Connector
	cropper   Cropper
	cfg       SessionConfig
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession constructs a capture session. cropper may be nil, in which case
// full snapshots are submitted uncropped.
func NewSession(cameras CameraOpener, connector inference.Connector, cropper Cropper, cfg SessionConfig, logger *zap.Logger) *Session {
	if cfg.Facing == "" {
		cfg.Facing = FacingEnvironment
	}
	return &Session{
		cameras:   cameras,
		connector: connector,
		cropper:   cropper,
		cfg:       cfg,
		logger:    logger.Named("capture_session"),
	}
}

// Start begins a capture task for side and returns its update stream. The
// stream is closed when the task captures, fails, or is stopped.
func (s *Session) Start(ctx context.Context, side session.Side) <-chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	updates := make(chan Update, 16)
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		defer close(updates)
		s.run(taskCtx, side, updates)
	}()
	return updates
}

// Reset discards the current task, including any captured still, and starts
// over for side.
func (s *Session) Reset(ctx context.Context, side session.Side) <-chan Update {
	return s.Start(ctx, side)
}

// Stop ends the running task and waits for its resources to be released.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

func (s *Session) run(ctx context.Context, side session.Side, updates chan<- Update) {
	log := s.logger.With(zap.String("side", string(side)))
	tracker := NewStabilityTracker(side, s.cfg.Thresholds, s.cfg.TrackerOptions...)

	emit := func(u Update) bool {
		u.Side = side
		select {
		case updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(Update{State: StateInitializing, Feedback: FeedbackStarting}) {
		return
	}

	cam, err := s.cameras.Open(ctx, s.cfg.Facing)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("camera open failed", zap.Error(err))
			emit(startupFailure(err))
		}
		return
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn("camera close failed", zap.Error(err))
		}
	}()

	params := s.cfg.Params
	params.Source = cam.Source()
	params.Side = string(side)
	conn, err := s.connector.Connect(ctx, params)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("inference connect failed", zap.Error(err))
			emit(startupFailure(fmt.Errorf("%w: %v", ErrConnectionFailed, err)))
		}
		return
	}
	closeConn := sync.OnceFunc(func() {
		if err := conn.Close(); err != nil {
			log.Debug("inference close failed", zap.Error(err))
		}
	})
	defer closeConn()
	// Recv does not observe ctx; closing the connection unblocks it.
	stopWatch := context.AfterFunc(ctx, closeConn)
	defer stopWatch()

	if !emit(Update{State: StateDetecting, Feedback: tracker.InitialFeedback()}) {
		return
	}

	for {
		frame, err := conn.Recv()
		if errors.Is(err, inference.ErrMalformedFrame) && ctx.Err() == nil {
			// An unreadable payload is a dropped frame; the tracker keeps its state.
			log.Debug("frame skipped", zap.Error(err))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("inference stream ended", zap.Error(err))
			emit(Update{
				State:    StateFailed,
				Failure:  FailureConnection,
				Feedback: FeedbackConnection,
				Err:      fmt.Errorf("%w: %v", ErrConnectionFailed, err),
			})
			return
		}

		d := tracker.Observe(frame)
		log.Debug("frame judged", zap.String("judgement", string(d.Judgement)), zap.Int("hold_count", d.HoldCount))
		if !d.Capture {
			if !emit(Update{State: StateDetecting, Feedback: d.Feedback, Judgement: d.Judgement, HoldCount: d.HoldCount, Variance: frame.Variance}) {
				return
			}
			continue
		}

		artifact, err := s.extractStill(ctx, cam, side, frame, tracker.LastBox())
		if err != nil {
			log.Warn("still extraction failed", zap.Error(err))
			emit(Update{State: StateFailed, Failure: FailureCapture, Feedback: FeedbackCaptureFailed, Judgement: d.Judgement, HoldCount: d.HoldCount, Err: err})
			return
		}
		emit(Update{State: StateCaptured, Feedback: d.Feedback, Judgement: d.Judgement, HoldCount: d.HoldCount, Variance: frame.Variance, Artifact: artifact})
		return
	}
}

func (s *Session) extractStill(ctx context.Context, cam Camera, side session.Side, frame inference.Frame, box *inference.BoundingBox) (*Artifact, error) {
	data := frame.CroppedImage
	if len(data) == 0 {
		snapshot, err := cam.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot: %v", ErrNoStillImage, err)
		}
		data = snapshot
		if s.cropper != nil && box != nil {
			cropped, err := s.cropper.Crop(snapshot, *box)
			if err != nil {
				return nil, fmt.Errorf("%w: crop: %v", ErrNoStillImage, err)
			}
			data = cropped
		}
	}
	if len(data) == 0 {
		return nil, ErrNoStillImage
	}

	contentType := "image/jpeg"
	if http.DetectContentType(data) == "image/png" {
		contentType = "image/png"
	}
	return &Artifact{Side: side, Kind: side.ArtifactKind(), ContentType: contentType, Data: data}, nil
}

func startupFailure(err error) Update {
	if errors.Is(err, ErrCameraPermission) {
		return Update{State: StateFailed, Failure: FailureCameraPermission, Feedback: FeedbackCameraPermission, Err: err}
	}
	if !errors.Is(err, ErrConnectionFailed) {
		err = fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return Update{State: StateFailed, Failure: FailureConnection, Feedback: FeedbackConnection, Err: err}
}
