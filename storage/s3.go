package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/thedenisnikulin/reindexer/errs"
)

// S3Store persists keys as objects under bucket/prefix. Object stores
// round-trip every operation over the network, so callers are advised
// to batch writes.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a store on an existing bucket. rootPrefix is
// prepended to all keys (e.g. "mydb/ns1/").
func NewS3Store(client *s3.Client, bucket, rootPrefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *S3Store) objectKey(key string) string {
	return path.Join(s.prefix, escapeKey(key))
}

// escapeKey guards the percent byte so object names stay reversible.
func escapeKey(key string) string {
	return strings.ReplaceAll(key, "%", "%25")
}

func unescapeKey(name string) string {
	return strings.ReplaceAll(name, "%25", "%")
}

func (s *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, errs.NotFound("storage key %q", key)
		}
		return nil, errs.Logic("s3 read %q: %v", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Logic("s3 read %q: %v", key, err)
	}
	return data, nil
}

func (s *S3Store) Write(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return errs.Logic("s3 write %q: %v", key, err)
	}
	return nil
}

func (s *S3Store) WriteSync(ctx context.Context, key string, value []byte) error {
	return s.Write(ctx, key, value)
}

func (s *S3Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return errs.Logic("s3 remove %q: %v", key, err)
	}
	return nil
}

func (s *S3Store) list(ctx context.Context, prefix string) ([]string, error) {
	full := path.Join(s.prefix, escapeKey(prefix))
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Logic("s3 list: %v", err)
		}
		for _, obj := range page.Contents {
			name := *obj.Key
			name = strings.TrimPrefix(name, s.prefix)
			name = strings.TrimPrefix(name, "/")
			if name != "" {
				keys = append(keys, unescapeKey(name))
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) Cursor(ctx context.Context, prefix string) (Cursor, error) {
	keys, err := s.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return &objectCursor{read: s.Read, ctx: ctx, keys: keys}, nil
}

func (s *S3Store) Flush(context.Context) error { return nil }

func (s *S3Store) AdviseBatching() bool { return true }

func (s *S3Store) Close() error { return nil }

func (s *S3Store) Destroy() error {
	ctx := context.Background()
	keys, err := s.list(ctx, "")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// objectCursor fetches values lazily, one object per Next.
type objectCursor struct {
	read  func(ctx context.Context, key string) ([]byte, error)
	ctx   context.Context
	keys  []string
	pos   int
	value []byte
	err   error
}

func (c *objectCursor) Next() bool {
	if c.err != nil || c.pos >= len(c.keys) {
		return false
	}
	c.value, c.err = c.read(c.ctx, c.keys[c.pos])
	c.pos++
	if c.err != nil {
		if errs.CodeOf(c.err) == errs.CodeNotFound {
			c.err = nil
			return c.Next()
		}
		return false
	}
	return true
}

func (c *objectCursor) Key() string   { return c.keys[c.pos-1] }
func (c *objectCursor) Value() []byte { return c.value }
func (c *objectCursor) Err() error    { return c.err }
func (c *objectCursor) Close() error  { return nil }
