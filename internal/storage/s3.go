package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// S3Backend resolves "s3://bucket/key" descriptions by downloading the
// object to a local scratch file and returning its path. This is the
// promotion of the commented-out minio experimentation in the teacher's
// test.go (test_minio) into a real storage.Backend: GDAL's /vsioss/
// driver only speaks the Aliyun OSS dialect, so an arbitrary
// S3-compatible endpoint goes through download-on-demand instead of a
// GDAL virtual filesystem path.
type S3Backend struct {
	client    *minio.Client
	scratch   string
	secure    bool
	endpoint  string
	accessKey string
	secretKey string
}

func NewS3Backend(endpoint, accessKeyID, secretAccessKey, scratchDir string, secure bool) (*S3Backend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: creating minio client")
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: creating scratch dir")
	}
	return &S3Backend{client: client, scratch: scratchDir, secure: secure, endpoint: endpoint, accessKey: accessKeyID, secretKey: secretAccessKey}, nil
}

func (b *S3Backend) Scheme() string { return "s3" }

func (b *S3Backend) Resolve(description string) (string, error) {
	rest := strings.TrimPrefix(description, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", errors.Errorf("storage: malformed s3 description %q", description)
	}

	ctx := context.Background()
	localPath := filepath.Join(b.scratch, uuid.NewString()+"-"+filepath.Base(key))

	if err := b.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return "", errors.Wrapf(err, "storage: downloading s3://%s/%s", bucket, key)
	}
	return localPath, nil
}

// EnsureBucket creates bucket if it does not already exist, mirroring
// test.go's test_minio bucket-existence check.
func (b *S3Backend) EnsureBucket(bucket string) error {
	ctx := context.Background()
	found, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrap(err, "storage: checking bucket existence")
	}
	if !found {
		if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return errors.Wrap(err, "storage: creating bucket")
		}
	}
	return nil
}
