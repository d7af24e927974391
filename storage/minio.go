package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"AutoFM/config"
	"AutoFM/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArtifactStore is the durable keyed store for rendered mix audio.
// The orchestrator only talks to this interface; the MinIO client
// below is the production implementation.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, mixID string, r io.Reader, size int64) (string, error)
	GetArtifact(ctx context.Context, mixID string) (io.ReadCloser, error)
	RemoveArtifact(ctx context.Context, mixID string) error
}

var minioClient *minio.Client

// InitMinio 初始化 MinIO 客户端并确保存储桶存在
func InitMinio(cfg *config.Config) error {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("MinIO 客户端初始化成功")
	return nil
}

// GetMinioClient 获取 MinIO 客户端实例
func GetMinioClient() *minio.Client {
	return minioClient
}

// MinioArtifactStore implements ArtifactStore on a MinIO bucket.
type MinioArtifactStore struct {
	client *minio.Client
	bucket string
}

// NewMinioArtifactStore 创建基于 MinIO 的制品存储
func NewMinioArtifactStore(cfg *config.Config) *MinioArtifactStore {
	return &MinioArtifactStore{client: minioClient, bucket: cfg.MinioBucket}
}

func artifactKey(mixID string) string {
	return fmt.Sprintf("mixes/%s.mp3", mixID)
}

// PutArtifact 上传渲染好的混音文件，返回对象键
func (s *MinioArtifactStore) PutArtifact(ctx context.Context, mixID string, r io.Reader, size int64) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("MinIO client not initialized")
	}

	key := artifactKey(mixID)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "audio/mpeg",
	})
	if err != nil {
		return "", fmt.Errorf("failed to put artifact %s: %w", key, err)
	}

	logger.Info("混音制品已上传",
		logger.String("mixId", mixID),
		logger.String("key", key),
		logger.Int64("bytes", size))
	return key, nil
}

// GetArtifact 获取混音文件的读取流
func (s *MinioArtifactStore) GetArtifact(ctx context.Context, mixID string) (io.ReadCloser, error) {
	if s.client == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}

	key := artifactKey(mixID)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", key, err)
	}
	// GetObject is lazy; surface missing objects here so callers see a
	// real error instead of a broken stream.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to stat artifact %s: %w", key, err)
	}
	return obj, nil
}

// RemoveArtifact 删除混音文件（用于回滚与清理）
func (s *MinioArtifactStore) RemoveArtifact(ctx context.Context, mixID string) error {
	if s.client == nil {
		return fmt.Errorf("MinIO client not initialized")
	}

	key := artifactKey(mixID)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove artifact %s: %w", key, err)
	}
	return nil
}
