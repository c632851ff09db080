package s3

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

/*
Conn wraps a MinIO client scoped to one bucket.  It speaks plain S3, so any
S3-compatible backend works as the durable task store.
*/
type Conn struct {
	client *minio.Client
	bucket string
}

// ConnConfig carries the connection settings, normally sourced from the
// store section of the server config.
type ConnConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewConn dials the endpoint and makes sure the bucket exists.
func NewConn(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})

	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)

	if err != nil {
		return nil, err
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &Conn{client: client, bucket: cfg.Bucket}, nil
}

// Get reads the object at key.  A missing key returns (nil, nil) so callers
// can distinguish absence from transport failure.
func (conn *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := conn.client.GetObject(ctx, conn.bucket, key, minio.GetObjectOptions{})

	if err != nil {
		return nil, err
	}

	defer obj.Close()

	buf, err := io.ReadAll(obj)

	if err != nil {
		var resp minio.ErrorResponse

		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, nil
		}

		return nil, err
	}

	return buf, nil
}

// Put writes the object at key, replacing any previous version.
func (conn *Conn) Put(ctx context.Context, key string, data []byte) error {
	_, err := conn.client.PutObject(
		ctx, conn.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	return err
}
