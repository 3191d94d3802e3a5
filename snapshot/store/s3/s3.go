// Package s3 stores values in an S3-compatible bucket, for sharing
// captured snapshot images and prebuilt bundles across hosts.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/isopod/data"
)

type S3Store struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

type Config struct {
	Endpoint   string
	BucketName string
	AccessKey  string
	SecretKey  string
	UseSSL     bool

	// Prefix is prepended to every key (optional).
	Prefix string
}

func New(cfg Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &S3Store{
		client:     client,
		bucketName: cfg.BucketName,
		prefix:     cfg.Prefix,
	}, nil
}

// Open verifies the bucket exists before first use.
func (ss *S3Store) Open(ctx context.Context) error {
	exists, err := ss.client.BucketExists(ctx, ss.bucketName)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("bucket %s does not exist", ss.bucketName)
	}

	return nil
}

func (ss *S3Store) key(key string) string {
	if ss.prefix == "" {
		return key
	}

	return ss.prefix + "/" + key
}

func (ss *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := ss.client.GetObject(ctx, ss.bucketName, ss.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	value, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
		}
		return nil, err
	}

	return value, nil
}

func (ss *S3Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := ss.client.PutObject(ctx, ss.bucketName, ss.key(key),
		bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})

	return err
}

func (ss *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := ss.client.StatObject(ctx, ss.bucketName, ss.key(key), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
