package instances

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewR2Client creates a target for a Cloudflare R2 bucket
func NewR2Client(ctx context.Context, accountID, accessKeyID, secretAccessKey, bucketName, prefix string) (*ObjectStore, error) {
	// R2 endpoint format: https://<ACCOUNT_ID>.r2.cloudflarestorage.com
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(customResolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
		config.WithRegion("auto"), // R2 uses "auto" region
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewObjectStore(s3.NewFromConfig(cfg), bucketName, prefix, endpoint), nil
}

// NewR2ClientFromEnv reads R2 credentials from the environment
func NewR2ClientFromEnv(ctx context.Context, bucketName, prefix string) (*ObjectStore, error) {
	accountID := os.Getenv("R2_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	secretAccessKey := os.Getenv("R2_SECRET_ACCESS_KEY")

	if accountID == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("R2 credentials not found in environment variables")
	}
	return NewR2Client(ctx, accountID, accessKeyID, secretAccessKey, bucketName, prefix)
}
