// Package mainconfig centralizes AWS SDK initialization so every binary
// shares the same LocalStack/production wiring.
package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
)

// localServices are the services LocalStack hosts in development. Anything
// else keeps its real endpoint even when the override is set.
var localServices = map[string]struct{}{
	sqs.ServiceID:      {},
	dynamodb.ServiceID: {},
	s3.ServiceID:       {},
	sesv2.ServiceID:    {},
}

// LoadAWSConfig builds the shared aws.Config: region, optional static
// credentials, and the LocalStack endpoint override when configured.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}

	accessKey := strings.TrimSpace(cfg.AWSAccessKeyID)
	secretKey := strings.TrimSpace(cfg.AWSSecretAccessKey)
	if accessKey != "" && secretKey != "" {
		static := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		opts = append(opts, config.WithCredentialsProvider(static))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}

	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.EndpointResolverWithOptions = localResolver(endpoint, cfg.AWSRegion)
	}
	return awsCfg, nil
}

func localResolver(endpoint, region string) aws.EndpointResolverWithOptionsFunc {
	return func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
		if _, ok := localServices[service]; !ok {
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}
		return aws.Endpoint{
			URL:           endpoint,
			PartitionID:   "aws",
			SigningRegion: region,
		}, nil
	}
}
