package awsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/logging"
)

// ErrObjectNotFound is returned by GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectStore stores captured artifacts in a single bucket.
type ObjectStore struct {
	client  s3API
	presign presignAPI
	bucket  string
	expiry  time.Duration
	logger  *zap.Logger
}

// NewObjectStore builds an ObjectStore from an SDK config.
func NewObjectStore(cfg aws.Config, bucket string, expiry time.Duration, logger *zap.Logger) *ObjectStore {
	client := s3.NewFromConfig(cfg)
	return newObjectStore(client, s3.NewPresignClient(client), bucket, expiry, logger)
}

func newObjectStore(client s3API, presign presignAPI, bucket string, expiry time.Duration, logger *zap.Logger) *ObjectStore {
	if expiry <= 0 {
		expiry = time.Minute
	}
	return &ObjectStore{
		client:  client,
		presign: presign,
		bucket:  bucket,
		expiry:  expiry,
		logger:  logger.Named("object_store"),
	}
}

// PresignUpload returns a URL the capture client PUTs the artifact to.
func (o *ObjectStore) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	req, err := o.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(o.expiry))
	if err != nil {
		wrapped := logging.NewOperationError("s3.presign_put", "", err)
		o.logger.Error("presign failed", zap.Error(wrapped), zap.String("key", key))
		return "", wrapped
	}
	return req.URL, nil
}

// GetObject reads a stored artifact fully into memory.
func (o *ObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			err = fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		wrapped := logging.NewOperationError("s3.get_object", "", err)
		o.logger.Error("get object failed", zap.Error(wrapped), zap.String("key", key))
		return nil, wrapped
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, logging.NewOperationError("s3.read_object", "", err)
	}
	return data, nil
}
