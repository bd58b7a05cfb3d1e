package filestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// MinioOptions is minio config
type MinioOptions struct {
	URL    string
	User   string
	Key    string
	Bucket string
	SSL    bool
}

// Minio keeps files in a minio bucket
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio creates minio backed storage, makes the bucket if missing
func NewMinio(ctx context.Context, opts MinioOptions) (*Minio, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("no minio URL")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("no minio bucket")
	}
	client, err := minio.New(opts.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.User, opts.Key, ""),
		Secure: opts.SSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't init minio client")
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "can't check bucket %s", opts.Bucket)
	}
	if !exists {
		goapp.Log.Info().Str("bucket", opts.Bucket).Msg("creating bucket")
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "can't create bucket %s", opts.Bucket)
		}
	}
	goapp.Log.Info().Str("url", opts.URL).Str("bucket", opts.Bucket).Msg("minio storage")
	return &Minio{client: client, bucket: opts.Bucket}, nil
}

// SaveFile puts reader content to the bucket
func (fs *Minio) SaveFile(ctx context.Context, name string, r io.Reader) error {
	goapp.Log.Info().Str("file", name).Msg("saving")
	_, err := fs.client.PutObject(ctx, fs.bucket, name, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "can't save %s", name)
	}
	return nil
}

// LoadFile gets the object, ErrNotFound if missing
func (fs *Minio) LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	obj, err := fs.client.GetObject(ctx, fs.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "can't load %s", name)
	}
	// GetObject is lazy, probe to surface missing key
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoKey(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "can't load %s", name)
	}
	return obj, nil
}

// Delete removes the object, no error if missing
func (fs *Minio) Delete(ctx context.Context, name string) error {
	err := fs.client.RemoveObject(ctx, fs.bucket, name, minio.RemoveObjectOptions{})
	if err != nil && !isNoKey(err) {
		return errors.Wrapf(err, "can't delete %s", name)
	}
	return nil
}

// Clean drops all objects with the ID prefix
func (fs *Minio) Clean(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("no ID")
	}
	for obj := range fs.client.ListObjects(ctx, fs.bucket, minio.ListObjectsOptions{Prefix: id + "_"}) {
		if obj.Err != nil {
			return errors.Wrap(obj.Err, "can't list files")
		}
		goapp.Log.Info().Str("file", obj.Key).Msg("deleting")
		if err := fs.client.RemoveObject(ctx, fs.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrapf(err, "can't delete %s", obj.Key)
		}
	}
	return nil
}

func isNoKey(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}
