package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	pages   map[string]*s3.ListObjectsV2Output
	objects map[string]*s3.GetObjectOutput
	listErr error
	headErr error

	listCalls  int
	lastPrefix string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls++
	f.lastPrefix = aws.ToString(in.Prefix)
	if f.listErr != nil {
		return nil, f.listErr
	}
	page, ok := f.pages[aws.ToString(in.ContinuationToken)]
	if !ok {
		return nil, fmt.Errorf("unexpected token %q", aws.ToString(in.ContinuationToken))
	}
	return page, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	out, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Store_ListFollowsPagination(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	fake := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			Contents: []types.Object{
				{Key: aws.String("in/a.json"), Size: aws.Int64(10), LastModified: aws.Time(ts)},
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("page-2"),
		},
		"page-2": {
			Contents: []types.Object{
				{Key: aws.String("in/b.csv"), Size: aws.Int64(3)},
			},
			IsTruncated: aws.Bool(false),
		},
	}}
	store := newS3Store(fake, "bkt", "in/")

	objs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.listCalls)
	assert.Equal(t, "in/", fake.lastPrefix)
	assert.Equal(t, []ObjectInfo{
		{Key: "in/a.json", Size: 10, LastModified: ts},
		{Key: "in/b.csv", Size: 3},
	}, objs)
}

func TestS3Store_ListError(t *testing.T) {
	store := newS3Store(&fakeS3{listErr: errors.New("throttled")}, "bkt", "")

	_, err := store.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestS3Store_GetCapturesMetadata(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	fake := &fakeS3{objects: map[string]*s3.GetObjectOutput{
		"a.json": {
			Body:         io.NopCloser(strings.NewReader(`[{"id":1}]`)),
			ContentType:  aws.String("application/json"),
			LastModified: aws.Time(ts),
			ETag:         aws.String(`"9b2cf535f27731c974343645a3985328"`),
		},
	}}
	store := newS3Store(fake, "bkt", "")

	obj, err := store.Get(context.Background(), "a.json")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(obj.Body))
	assert.Equal(t, "application/json", obj.ContentType)
	assert.Equal(t, ts, obj.LastModified)
	assert.Equal(t, "9b2cf535f27731c974343645a3985328", obj.ETag)
}

func TestS3Store_GetMissingKey(t *testing.T) {
	store := newS3Store(&fakeS3{}, "bkt", "")

	_, err := store.Get(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	var nsk *types.NoSuchKey
	assert.ErrorAs(t, err, &nsk)
}

func TestS3Store_HeadBucket(t *testing.T) {
	ok := newS3Store(&fakeS3{}, "bkt", "")
	require.NoError(t, ok.HeadBucket(context.Background()))

	missing := newS3Store(&fakeS3{headErr: &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}}, "bkt", "")
	err := missing.HeadBucket(context.Background())
	assert.ErrorIs(t, err, ErrBucketNotFound)

	denied := newS3Store(&fakeS3{headErr: &smithy.GenericAPIError{Code: "Forbidden", Message: "Forbidden"}}, "bkt", "")
	err = denied.HeadBucket(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBucketNotFound)
}

func TestTrimETag(t *testing.T) {
	assert.Equal(t, "abc", TrimETag(`"abc"`))
	assert.Equal(t, "abc", TrimETag("abc"))
	assert.Equal(t, "", TrimETag(""))
}
