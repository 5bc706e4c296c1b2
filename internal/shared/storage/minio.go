package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOArchiver 把导出文件归档到对象存储
type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchiver endpoint 为空时返回 nil, nil，表示不启用归档
func NewMinIOArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIOArchiver, error) {
	if endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinIOArchiver{client: client, bucket: bucket}, nil
}

// EnsureBucket 桶不存在时创建
func (a *MinIOArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Put 上传对象，返回 bucket/object 路径
func (a *MinIOArchiver) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectName, err)
	}
	return a.bucket + "/" + objectName, nil
}
