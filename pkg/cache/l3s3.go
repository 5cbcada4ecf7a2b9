package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client L3S3 depends on, narrowed for testing.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// L3S3 is the optional remote-object-store third cache tier, used for
// durability across process restarts and for sharing built artifacts across
// backbone instances. Nil-safe at the Tiered level: a document small enough
// that remote mirroring isn't worth the round trip simply never has an L3
// configured.
type L3S3 struct {
	client *manager.Uploader
	api    s3API
	bucket string
	prefix string
}

// NewL3S3 wraps an S3 client as an L3 tier for bucket, storing objects under
// prefix.
func NewL3S3(client *s3.Client, bucket, prefix string) *L3S3 {
	return &L3S3{
		client: manager.NewUploader(client),
		api:    client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (l *L3S3) objectKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + "/" + key
}

func (l *L3S3) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := l.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}

	entry := Entry{Value: data}
	if out.Expires != nil {
		entry.ExpiresAt = *out.Expires
	}
	if entry.expired(time.Now()) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (l *L3S3) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.objectKey(key)),
		Body:   bytes.NewReader(value),
	}
	if ttl != 0 {
		expires := time.Now().Add(ttl)
		in.Expires = &expires
	}
	_, err := l.client.Upload(ctx, in)
	return err
}

var _ Tier = (*L3S3)(nil)
