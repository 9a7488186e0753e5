// Package instances provides the places a benchmark creates files in: a
// local or network-mounted directory, an S3 bucket or an R2 bucket. It also
// samples host utilisation while a run is in progress
package instances

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Target is where files are created
type Target interface {
	// Prepare makes the target ready. Only the coordinating worker calls it
	Prepare(ctx context.Context) error
	// Create makes one empty file named name
	Create(ctx context.Context, name string) error
	// Remove deletes a file made by Create
	Remove(ctx context.Context, name string) error
	String() string
}

// Location is a parsed target argument
type Location struct {
	Scheme string // "", "s3" or "r2"
	Bucket string
	Prefix string
	Dir    string
}

// ParseLocation splits a target argument. Anything without an s3:// or r2://
// scheme is a directory path
func ParseLocation(arg string) (Location, error) {
	for _, scheme := range []string{"s3", "r2"} {
		rest, ok := strings.CutPrefix(arg, scheme+"://")
		if !ok {
			continue
		}
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("%q: missing bucket name", arg)
		}
		return Location{Scheme: scheme, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	}
	if arg == "" {
		return Location{}, fmt.Errorf("empty target directory")
	}
	return Location{Dir: arg}, nil
}

// Open returns the Target for loc. S3 targets use AWS_REGION, defaulting to
// us-east-1; R2 targets read credentials from the environment
func Open(ctx context.Context, loc Location) (Target, error) {
	switch loc.Scheme {
	case "":
		return NewLocalDir(loc.Dir), nil
	case "s3":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Client(ctx, region, loc.Bucket, loc.Prefix)
	case "r2":
		return NewR2ClientFromEnv(ctx, loc.Bucket, loc.Prefix)
	}
	return nil, fmt.Errorf("unknown target scheme %q", loc.Scheme)
}
