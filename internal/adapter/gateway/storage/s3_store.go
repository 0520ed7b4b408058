package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// S3Store implements ArtifactStore on AWS S3
// Key structure mirrors the filesystem layout: s3://<bucket>/<prefix>/{.specs,.reports,.plans,.state}/
// Locators are full s3:// URLs.
type S3Store struct {
	client     S3API // Use interface for testability
	bucketName string
	prefix     string // Optional prefix for all keys (e.g., "deerun/prod")
	now        func() time.Time
}

// S3Config holds S3 store configuration
type S3Config struct {
	BucketName string // S3 bucket name
	Prefix     string // Optional key prefix
	Region     string // AWS region (optional, uses default if empty)
}

// NewS3Store creates a new S3-based artifact store
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg), cfg.BucketName, cfg.Prefix), nil
}

// NewS3StoreWithClient creates a new S3-based store with custom S3 client
// This is primarily used for testing with mock S3 clients
func NewS3StoreWithClient(client S3API, bucketName, prefix string) *S3Store {
	return &S3Store{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		now:        time.Now,
	}
}

// Write uploads a new artifact. If-None-Match keeps existing objects untouched;
// a taken key moves on to the next -N suffix.
func (s *S3Store) Write(ctx context.Context, req repository.WriteRequest) (*repository.Artifact, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}
	base, err := relativePath(req)
	if err != nil {
		return nil, persistenceError(req, err)
	}

	for n := 1; n <= maxCollisionSuffix; n++ {
		rel := specpath.WithSuffix(base, n)
		key := s.buildKey(rel)

		exists, err := s.headExists(ctx, key)
		if err != nil {
			return nil, persistenceError(req, err)
		}
		if exists {
			continue
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucketName),
			Key:         aws.String(key),
			Body:        bytes.NewReader(req.Content),
			ContentType: aws.String("text/markdown"),
			IfNoneMatch: aws.String("*"),
			Metadata: map[string]string{
				"category":   string(req.Category),
				"slug":       req.Slug,
				"created-at": req.Timestamp.UTC().Format(time.RFC3339),
			},
		})
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return nil, persistenceError(req, fmt.Errorf("upload to S3: %w", err))
		}

		return &repository.Artifact{
			Locator:   s.locator(key),
			Category:  req.Category,
			Size:      int64(len(req.Content)),
			CreatedAt: req.Timestamp,
		}, nil
	}
	return nil, persistenceError(req, fmt.Errorf("no free key for %s after %d attempts", base, maxCollisionSuffix))
}

// Read downloads an artifact
func (s *S3Store) Read(ctx context.Context, locator string) ([]byte, error) {
	key, err := s.keyFor(locator)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s from S3: %w", locator, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", locator, err)
	}
	return data, nil
}

// Exists reports whether the artifact exists
func (s *S3Store) Exists(ctx context.Context, locator string) (bool, error) {
	key, err := s.keyFor(locator)
	if err != nil {
		return false, err
	}
	return s.headExists(ctx, key)
}

// List returns artifact locators of one category sorted by key
func (s *S3Store) List(ctx context.Context, category repository.Category) ([]string, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("unknown artifact category %q", category)
	}
	prefix := s.buildKey(category.Dir()) + "/"

	var locators []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s in S3: %w", category, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
				continue
			}
			locators = append(locators, s.locator(key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(locators)
	if locators == nil {
		locators = []string{}
	}
	return locators, nil
}

func (s *S3Store) headExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("head %s in S3: %w", key, err)
}

// buildKey joins the prefix and a relative path
func (s *S3Store) buildKey(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return path.Join(s.prefix, rel)
}

func (s *S3Store) locator(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key)
}

// keyFor accepts an s3:// locator for this bucket or a path relative to the prefix
func (s *S3Store) keyFor(locator string) (string, error) {
	bucketPrefix := fmt.Sprintf("s3://%s/", s.bucketName)
	if strings.HasPrefix(locator, "s3://") {
		if !strings.HasPrefix(locator, bucketPrefix) {
			return "", fmt.Errorf("locator %q belongs to another bucket", locator)
		}
		return strings.TrimPrefix(locator, bucketPrefix), nil
	}
	rel, err := cleanLocator(locator)
	if err != nil {
		return "", err
	}
	return s.buildKey(rel), nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
