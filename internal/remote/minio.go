package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

const (
	schemaObject   = "_schema.json"
	recordsDir     = "records"
	minioWriteFan  = 8
	jsonObjectType = "application/json"
)

// MinIOStore maps each collection to a prefix in one bucket:
//
//	<collection>/_schema.json
//	<collection>/records/<id>.json
type MinIOStore struct {
	mc     *minio.Client
	bucket string
	guard  SchemaGuard
}

func NewMinIOStore(endpoint, access, secret string, useTLS bool, bucket string) (*MinIOStore, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOStore{mc: mc, bucket: bucket}, nil
}

func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload puts an arbitrary object in the store's bucket.
func (s *MinIOStore) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.mc.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *MinIOStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.mc.StatObject(ctx, s.bucket, path.Join(name, schemaObject), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// CreateCollection also creates the bucket on first use.
func (s *MinIOStore) CreateCollection(ctx context.Context, name string, schema []byte) error {
	if _, err := s.guard.Compile(schema); err != nil {
		return err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	return s.Upload(ctx, path.Join(name, schemaObject), bytes.NewReader(schema), int64(len(schema)), jsonObjectType)
}

func (s *MinIOStore) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objects)
		for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: name + "/", Recursive: true}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var errs []error
	for rerr := range s.mc.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err))
	}
	if listErr != nil {
		errs = append(errs, fmt.Errorf("list %s: %w", name, listErr))
	}
	return errors.Join(errs...)
}

func (s *MinIOStore) Upsert(ctx context.Context, name string, records []Record) error {
	schema, err := s.readObject(ctx, path.Join(name, schemaObject))
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return err
	}
	if err := s.guard.Check(schema, records); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(minioWriteFan)
	for _, r := range records {
		r := r
		g.Go(func() error {
			key := path.Join(name, recordsDir, r.ID+".json")
			return s.Upload(gctx, key, bytes.NewReader(r.Payload), int64(len(r.Payload)), jsonObjectType)
		})
	}
	return g.Wait()
}

func (s *MinIOStore) Scroll(ctx context.Context, name string, limit int) ([]Record, error) {
	ok, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := []Record{}
	prefix := path.Join(name, recordsDir) + "/"
	for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if len(out) >= limit {
			break
		}
		if obj.Err != nil {
			return nil, obj.Err
		}
		payload, err := s.readObject(ctx, obj.Key)
		if err != nil {
			if isNoSuchKey(err) {
				continue
			}
			return nil, err
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), ".json")
		out = append(out, Record{ID: id, Payload: payload})
	}
	return out, nil
}

func (s *MinIOStore) readObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// isNoSuchKey also covers a bucket that was never created.
func isNoSuchKey(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

// BuildObjectPath partitions archive objects by UTC day.
func BuildObjectPath(basePath string, t time.Time, file string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s", basePath, t.Year(), t.Month(), t.Day(), file)
}
