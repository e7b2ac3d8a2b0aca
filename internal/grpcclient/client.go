package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/idverify/internal/logging"
)

const (
	streamDetectionsMethod = "/inference.v1.DetectionService/StreamDetections"
	snapshotMethod         = "/inference.v1.DetectionService/Snapshot"
)

// Client talks to the vision inference worker. Messages are carried as
// structpb.Struct so the worker's workflow outputs pass through untouched.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialInference returns a ready-to-use client for the inference worker.
func DialInference(ctx context.Context, addr string, logger *zap.Logger) (*Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_inference", "", err)
		logger.Error("failed to dial inference worker", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, logger), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn, logger *zap.Logger) *Client {
	return &Client{conn: conn, logger: logger.Named("inference_client")}
}

// Snapshot grabs a full-resolution still of source from the worker's camera
// feed.
func (c *Client) Snapshot(ctx context.Context, source string) ([]byte, error) {
	req, err := structpb.NewStruct(map[string]any{"source": source})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.snapshot", "", err)
	}
	resp := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, snapshotMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.snapshot", "", err)
		c.logger.Error("snapshot call failed", zap.Error(wrapped), zap.String("source", source))
		return nil, wrapped
	}
	return resp.GetValue(), nil
}
