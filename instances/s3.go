package instances

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of the S3 client used to create objects
type ObjectAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ObjectStore creates empty objects under a key prefix of an S3-compatible
// bucket. Each create is one PutObject
type ObjectStore struct {
	client     ObjectAPI
	bucketName string
	prefix     string
	endpoint   string
}

// NewS3Client creates a target for an AWS S3 bucket
func NewS3Client(ctx context.Context, region, bucketName, prefix string) (*ObjectStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewObjectStore(s3.NewFromConfig(cfg), bucketName, prefix,
		fmt.Sprintf("https://s3.%s.amazonaws.com", region)), nil
}

// NewObjectStore wraps an existing client
func NewObjectStore(client ObjectAPI, bucketName, prefix, endpoint string) *ObjectStore {
	return &ObjectStore{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		endpoint:   endpoint,
	}
}

func (s *ObjectStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Prepare checks that the bucket exists and is reachable. Prefixes need no
// creation
func (s *ObjectStore) Prepare(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if err != nil {
		return fmt.Errorf("%w: bucket %s: %v", ErrMkdir, s.bucketName, err)
	}
	return nil
}

// Create uploads one zero-byte object
func (s *ObjectStore) Create(ctx context.Context, name string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(nil),
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrCreate, s.key(name), err)
	}
	return nil
}

// Remove deletes an object created by Create
func (s *ObjectStore) Remove(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetEndpoint returns the storage endpoint
func (s *ObjectStore) GetEndpoint() string {
	return s.endpoint
}

func (s *ObjectStore) String() string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucketName, s.prefix)
}
