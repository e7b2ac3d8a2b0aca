// Command capture runs the document capture loop headlessly: it watches the
// live inference stream for a camera, captures the front and back of an
// identity card once each is held steady, uploads both, and asks the server
// to verify the session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/apiclient"
	"github.com/example/idverify/internal/capture"
	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/grpcclient"
	"github.com/example/idverify/internal/inference"
	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/session"
	"github.com/example/idverify/internal/usecase"
)

func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:8080", "verification server base URL")
		sessionID  = flag.String("session", "", "verification session id")
		token      = flag.String("token", "", "capture token issued with the session")
		livenessID = flag.String("liveness", "", "liveness session id; defaults to the one stored on the session")
		device     = flag.String("device", "/dev/video0", "camera device")
		debug      = flag.Bool("debug", false, "log every frame judgement and report sharpness to the server")
	)
	flag.Parse()

	logger, err := logging.NewDevelopmentLogger(*debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if *sessionID == "" || *token == "" {
		logger.Fatal("both -session and -token are required")
	}

	thresholds, err := config.LoadThresholds()
	if err != nil {
		logger.Fatal("invalid thresholds", zap.Error(err))
	}
	inf := config.LoadInference()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, conn, err := grpcclient.DialInference(ctx, inf.Addr, logger)
	if err != nil {
		logger.Fatal("failed to connect to inference worker", zap.Error(err))
	}
	defer conn.Close()

	api := apiclient.New(*serverURL, *token, apiclient.WithLogger(logger))
	agent := &agent{
		sessionID: *sessionID,
		api:       api,
		debug:     *debug,
		logger:    logger.Named("capture_agent"),
		session: capture.NewSession(
			&deviceOpener{path: *device, snapshots: client},
			client,
			capture.NewJPEGCropper(),
			capture.SessionConfig{
				Thresholds: thresholds,
				Params:     inference.Params{Workspace: inf.Workspace, WorkflowID: inf.WorkflowID},
			},
			logger,
		),
	}

	if err := agent.run(ctx, *livenessID); err != nil {
		logger.Error("capture failed", zap.Error(err))
		os.Exit(1)
	}
}

type snapshotter interface {
	Snapshot(ctx context.Context, source string) ([]byte, error)
}

// deviceOpener acquires a local camera device. Stills come from the
// inference worker, which owns the frame feed for that device.
type deviceOpener struct {
	path      string
	snapshots snapshotter
}

func (o *deviceOpener) Open(_ context.Context, _ capture.Facing) (capture.Camera, error) {
	f, err := os.Open(o.path)
	if errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", capture.ErrCameraPermission, err)
	}
	if err != nil {
		return nil, err
	}
	return &deviceCamera{file: f, path: o.path, snapshots: o.snapshots}, nil
}

type deviceCamera struct {
	file      *os.File
	path      string
	snapshots snapshotter
}

func (c *deviceCamera) Source() string { return c.path }

func (c *deviceCamera) Snapshot(ctx context.Context) ([]byte, error) {
	return c.snapshots.Snapshot(ctx, c.path)
}

func (c *deviceCamera) Close() error { return c.file.Close() }

type agent struct {
	sessionID string
	api       *apiclient.Client
	session   *capture.Session
	debug     bool
	logger    *zap.Logger
}

func (a *agent) run(ctx context.Context, livenessID string) error {
	defer a.session.Stop()

	keys := map[session.Side]string{}
	for _, side := range []session.Side{session.SideFront, session.SideBack} {
		artifact, err := a.captureSide(ctx, side)
		if err != nil {
			return err
		}
		key, err := a.api.Submit(ctx, a.sessionID, *artifact)
		if err != nil {
			a.markFailed(ctx, "upload failed")
			return err
		}
		keys[side] = key
	}

	outcome, err := a.api.Verify(ctx, usecase.PipelineRequest{
		SessionID:         a.sessionID,
		LivenessSessionID: livenessID,
		IDFrontKey:        keys[session.SideFront],
		IDBackKey:         keys[session.SideBack],
	})
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	fields := []zap.Field{zap.String("status", string(outcome.Status))}
	if outcome.Confidence != nil {
		fields = append(fields, zap.Float64("confidence", *outcome.Confidence))
	}
	if outcome.Success {
		a.logger.Info("verification succeeded", fields...)
		return nil
	}
	a.logger.Warn("verification rejected", append(fields, zap.String("reason", outcome.Reason))...)
	return nil
}

func (a *agent) captureSide(ctx context.Context, side session.Side) (*capture.Artifact, error) {
	log := a.logger.With(zap.String("side", string(side)))
	lastFeedback := ""
	for u := range a.session.Start(ctx, side) {
		if u.Feedback != lastFeedback {
			log.Info(u.Feedback, zap.String("state", string(u.State)))
			lastFeedback = u.Feedback
		}
		if a.debug && u.Variance != nil {
			a.reportVariance(ctx, side, *u.Variance)
		}

		switch u.State {
		case capture.StateCaptured:
			log.Info("document captured", zap.Int("bytes", len(u.Artifact.Data)), zap.String("content_type", u.Artifact.ContentType))
			return u.Artifact, nil
		case capture.StateFailed:
			return nil, fmt.Errorf("%s capture (%s): %w", side, u.Failure, u.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s capture ended without a result", side)
}

func (a *agent) reportVariance(ctx context.Context, side session.Side, variance float64) {
	if err := a.api.ReportVariance(ctx, a.sessionID, side, variance, time.Now().UnixMilli()); err != nil {
		a.logger.Debug("variance report failed", zap.Error(err))
	}
}

// markFailed records a failed attempt so the operator sees why the session
// stopped. The session can be restarted afterwards.
func (a *agent) markFailed(ctx context.Context, reason string) {
	if _, err := a.api.SetStatus(ctx, a.sessionID, session.StatusFailed, reason); err != nil {
		a.logger.Warn("failed to record failed status", zap.Error(err))
	}
}
