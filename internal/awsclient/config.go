// Package awsclient adapts S3 and Rekognition to the verification ports.
package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/logging"
)

// NewConfig loads the SDK configuration. Static keys are used when both are
// set; otherwise the default credential chain applies.
func NewConfig(ctx context.Context, cfg config.AWS) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, logging.NewOperationError("awsclient.load_config", "", err)
	}
	return awsCfg, nil
}
