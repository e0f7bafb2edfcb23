package storage

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/thedenisnikulin/reindexer/errs"
)

// MinioStore persists keys through MinIO or any S3-compatible endpoint
// reachable with the minio client.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore creates a store on an existing bucket. rootPrefix is
// prepended to all keys.
func NewMinioStore(client *minio.Client, bucket, rootPrefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *MinioStore) objectKey(key string) string {
	return path.Join(s.prefix, escapeKey(key))
}

func minioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func (s *MinioStore) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errs.Logic("minio read %q: %v", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minioNotFound(err) {
			return nil, errs.NotFound("storage key %q", key)
		}
		return nil, errs.Logic("minio read %q: %v", key, err)
	}
	return data, nil
}

func (s *MinioStore) Write(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(key),
		bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{})
	if err != nil {
		return errs.Logic("minio write %q: %v", key, err)
	}
	return nil
}

func (s *MinioStore) WriteSync(ctx context.Context, key string, value []byte) error {
	return s.Write(ctx, key, value)
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !minioNotFound(err) {
		return errs.Logic("minio remove %q: %v", key, err)
	}
	return nil
}

func (s *MinioStore) list(ctx context.Context, prefix string) ([]string, error) {
	full := path.Join(s.prefix, escapeKey(prefix))
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errs.Logic("minio list: %v", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			keys = append(keys, unescapeKey(name))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MinioStore) Cursor(ctx context.Context, prefix string) (Cursor, error) {
	keys, err := s.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return &objectCursor{read: s.Read, ctx: ctx, keys: keys}, nil
}

func (s *MinioStore) Flush(context.Context) error { return nil }

func (s *MinioStore) AdviseBatching() bool { return true }

func (s *MinioStore) Close() error { return nil }

func (s *MinioStore) Destroy() error {
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
