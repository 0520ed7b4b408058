package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
)

func TestS3Store_WriteAndRead(t *testing.T) {
	mockClient := NewMockS3Client()
	store := NewS3StoreWithClient(mockClient, "test-bucket", "deerun/prod/")
	ctx := context.Background()

	art, err := store.Write(ctx, repository.WriteRequest{
		Category:  repository.CategoryReports,
		Slug:      "add-login",
		Kind:      "research",
		Timestamp: fixedTime,
		Content:   []byte("findings"),
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://test-bucket/deerun/prod/.reports/2025-03-14-0926-research-add-login.md", art.Locator)
	assert.Equal(t, 1, mockClient.GetObjectCount())

	data, err := store.Read(ctx, art.Locator)
	require.NoError(t, err)
	assert.Equal(t, "findings", string(data))

	ok, err := store.Exists(ctx, art.Locator)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3Store_WriteOnceCollisionSuffix(t *testing.T) {
	mockClient := NewMockS3Client()
	store := NewS3StoreWithClient(mockClient, "b", "")
	ctx := context.Background()
	req := repository.WriteRequest{Category: repository.CategoryPlans, Slug: "x", Kind: "feature", Timestamp: fixedTime}

	req.Content = []byte("v1")
	first, err := store.Write(ctx, req)
	require.NoError(t, err)
	req.Content = []byte("v2")
	second, err := store.Write(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "s3://b/.plans/2025-03-14-0926-feature-x.md", first.Locator)
	assert.Equal(t, "s3://b/.plans/2025-03-14-0926-feature-x-2.md", second.Locator)

	raw, ok := mockClient.GetObjectForTest(".plans/2025-03-14-0926-feature-x.md")
	require.True(t, ok)
	assert.Equal(t, "v1", string(raw))
}

func TestS3Store_ConditionalPutRejectsOverwrite(t *testing.T) {
	mockClient := NewMockS3Client()
	store := NewS3StoreWithClient(mockClient, "b", "")
	ctx := context.Background()

	_, err := store.Write(ctx, repository.WriteRequest{Category: repository.CategorySpecs, Slug: "s", Content: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, 1, mockClient.PutCount())

	err = func() error {
		_, err := store.client.PutObject(ctx, putInput("b", ".specs/s.md", "b"))
		return err
	}()
	assert.True(t, isPreconditionFailed(err))
}

func TestS3Store_List(t *testing.T) {
	store := NewS3StoreWithClient(NewMockS3Client(), "b", "p")
	ctx := context.Background()

	for _, slug := range []string{"b-run", "a-run"} {
		_, err := store.Write(ctx, repository.WriteRequest{Category: repository.CategorySpecs, Slug: slug, Content: []byte(slug)})
		require.NoError(t, err)
	}

	got, err := store.List(ctx, repository.CategorySpecs)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://b/p/.specs/a-run.md", "s3://b/p/.specs/b-run.md"}, got)
}

func TestS3Store_ReadErrors(t *testing.T) {
	store := NewS3StoreWithClient(NewMockS3Client(), "b", "")
	ctx := context.Background()

	_, err := store.Read(ctx, "s3://b/.specs/missing.md")
	assert.Error(t, err)

	_, err = store.Read(ctx, "s3://other/.specs/x.md")
	assert.Error(t, err)

	ok, err := store.Exists(ctx, ".specs/missing.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func putInput(bucket, key, body string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		IfNoneMatch: aws.String("*"),
	}
}
