package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/idverify/internal/inference"
	"github.com/example/idverify/internal/logging"
)

var detectionsStreamDesc = &grpc.StreamDesc{
	StreamName:    "StreamDetections",
	ServerStreams: true,
}

// Connect opens a detection stream for params. It implements
// inference.Connector.
func (c *Client) Connect(ctx context.Context, params inference.Params) (inference.Connection, error) {
	req, err := structpb.NewStruct(map[string]any{
		"workspace":   params.Workspace,
		"workflow_id": params.WorkflowID,
		"source":      params.Source,
		"side":        params.Side,
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.stream_detections", "", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(streamCtx, detectionsStreamDesc, streamDetectionsMethod)
	if err != nil {
		cancel()
		wrapped := logging.NewOperationError("grpcclient.stream_detections", "", err)
		c.logger.Error("failed to open detection stream", zap.Error(wrapped), zap.String("source", params.Source))
		return nil, wrapped
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, logging.NewOperationError("grpcclient.stream_detections", "", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, logging.NewOperationError("grpcclient.stream_detections", "", err)
	}

	c.logger.Debug("detection stream opened",
		zap.String("workflow_id", params.WorkflowID),
		zap.String("source", params.Source),
		zap.String("side", params.Side),
	)
	return &detectionStream{stream: stream, cancel: cancel}, nil
}

type detectionStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Recv blocks for the next frame. After Close, or once the worker ends the
// stream, it returns an error wrapping inference.ErrStreamClosed. A payload
// that does not decode returns inference.ErrMalformedFrame and leaves the
// stream open.
func (d *detectionStream) Recv() (inference.Frame, error) {
	msg := new(structpb.Struct)
	if err := d.stream.RecvMsg(msg); err != nil {
		if d.isClosed() || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return inference.Frame{}, fmt.Errorf("%w: %v", inference.ErrStreamClosed, err)
		}
		return inference.Frame{}, err
	}
	frame, err := FrameFromStruct(msg)
	if err != nil {
		return inference.Frame{}, err
	}
	frame.ReceivedAt = time.Now()
	return frame, nil
}

// Close cancels the stream. It is safe to call more than once.
func (d *detectionStream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.cancel()
	return nil
}

func (d *detectionStream) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
