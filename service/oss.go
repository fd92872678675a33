package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"ReelForge-server/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var MinioClient *minio.Client

// InitMinIO 初始化连接并确保 Bucket 存在，在 main.go 中调用
func InitMinIO() {
	cfg := config.AppConfig.MinIO
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatalf("minio init failed: %v", err)
	}

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		log.Fatalf("minio bucket check failed: %v", err)
	}
	if !exists {
		if err := MinioClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			log.Fatalf("minio bucket create failed: %v", err)
		}
		log.Printf("bucket '%s' created", cfg.Bucket)
	}
	log.Println("minio connected")
}

func contentTypeByExt(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// UploadToMinIO 通用上传函数，从 io.Reader 上传到 MinIO，返回可访问的 URL。
// size 传 -1 表示未知大小。
func UploadToMinIO(reader io.Reader, objectName string, size int64) (string, error) {
	ctx := context.Background()
	cfg := config.AppConfig.MinIO

	_, err := MinioClient.PutObject(ctx, cfg.Bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentTypeByExt(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("minio upload failed: %w", err)
	}

	// 预签名 URL（72 小时有效期）
	expiry := time.Hour * 72
	presignedURL, err := MinioClient.PresignedGetObject(ctx, cfg.Bucket, objectName, expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign url failed: %w", err)
	}

	log.Printf("object uploaded: %s", objectName)
	return presignedURL.String(), nil
}

// MirrorToMinIO 下载 Provider 产物并转存 MinIO，返回本侧可访问的 URL
func MirrorToMinIO(sourceURL, objectName string) (string, error) {
	if sourceURL == "" {
		return "", fmt.Errorf("source url is empty")
	}
	resp, err := http.Get(sourceURL)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	return UploadToMinIO(resp.Body, objectName, resp.ContentLength)
}

// SaveAudioLocal 下载音频到本地 audio 目录，返回 /audios/<file> 相对路径。
// 单条配音走本地盘由 /audios 路由直接服务。
func SaveAudioLocal(sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", fmt.Errorf("source url is empty")
	}
	dir := config.AppConfig.Media.AudioDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir failed: %w", err)
	}

	resp, err := http.Get(sourceURL)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	filename := uuid.NewString() + ".mp3"
	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file failed: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("write audio file failed: %w", err)
	}

	return "/audios/" + filename, nil
}
