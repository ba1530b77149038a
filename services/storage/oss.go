// Package storagesvc implements material.FileStorage on Aliyun OSS and on the local disk.
package storagesvc

import (
	"context"
	"io"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/material"
)

type ossStorage struct {
	bucket *oss.Bucket
}

var _ material.FileStorage = (*ossStorage)(nil)

// NewOSSStorage stores objects in a private OSS bucket; downloads go through signed URLs.
func NewOSSStorage(conf *core.Config) (material.FileStorage, error) {
	sc := conf.Storage
	if sc.OSSEndpoint == "" || sc.OSSAccessKey == "" || sc.OSSSecretKey == "" || sc.OSSBucket == "" {
		return nil, errors.New("oss storage: endpoint, access key, secret key and bucket are required")
	}
	client, err := oss.New(sc.OSSEndpoint, sc.OSSAccessKey, sc.OSSSecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "oss.New")
	}
	bucket, err := client.Bucket(sc.OSSBucket)
	if err != nil {
		return nil, errors.Wrap(err, "oss.Bucket")
	}
	return &ossStorage{bucket: bucket}, nil
}

func (s *ossStorage) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	if key == "" {
		return errors.New("empty key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err := s.bucket.PutObject(key, body,
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ObjectACL(oss.ACLPrivate),
	)
	return errors.Wrapf(err, "putting object %s", key)
}

func (s *ossStorage) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	url, err := s.bucket.SignURL(key, oss.HTTPGet, int64(expiry/time.Second))
	if err != nil {
		return "", errors.Wrapf(err, "signing url of %s", key)
	}
	return url, nil
}

func (s *ossStorage) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.bucket.DeleteObject(key, oss.WithContext(ctx)), "deleting object %s", key)
}
