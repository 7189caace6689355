package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"BriefToVideo-server/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var MinioClient *minio.Client

// InitMinIO initializes the connection, called from main.go.
func InitMinIO() {
	cfg := config.AppConfig.MinIO
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatalf("MinIO init failed: %v", err)
	}
	log.Println("MinIO connected")
}

// UploadToMinIO uploads from an io.Reader and returns a presigned URL.
// size may be -1 when unknown.
func UploadToMinIO(reader io.Reader, objectName string, size int64) (string, error) {
	ctx := context.Background()
	cfg := config.AppConfig.MinIO
	bucketName := cfg.Bucket

	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return "", fmt.Errorf("check bucket failed: %w", err)
	}
	if !exists {
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("create bucket failed: %w", err)
		}
		log.Printf("bucket '%s' created", bucketName)
	}

	contentType := "application/octet-stream"
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".webp":
		contentType = "image/webp"
	case ".mp4":
		contentType = "video/mp4"
	case ".mp3":
		contentType = "audio/mpeg"
	case ".wav":
		contentType = "audio/wav"
	}

	_, err = MinioClient.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload to MinIO failed: %w", err)
	}

	expiry := time.Hour * 72
	reqParams := make(url.Values)
	presignedURL, err := MinioClient.PresignedGetObject(ctx, bucketName, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign URL failed: %w", err)
	}

	log.Printf("object uploaded: %s", objectName)
	return presignedURL.String(), nil
}

// MirrorToMinIO downloads a worker-hosted resource and re-uploads it into our
// bucket, returning the presigned URL. Worker URLs are short-lived; mirroring
// keeps generated media reachable after the worker recycles its storage.
func MirrorToMinIO(sourceURL, objectName string) (string, error) {
	resp, err := http.Get(sourceURL)
	if err != nil {
		return "", fmt.Errorf("download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	return UploadToMinIO(resp.Body, objectName, resp.ContentLength)
}

// MinioResolver resolves media lookup ids (video_id/audio_id) to presigned
// URLs for objects stored under media/<id>.
type MinioResolver struct{}

func (MinioResolver) ResolveMediaURL(ctx context.Context, mediaID string) (string, error) {
	cfg := config.AppConfig.MinIO
	objectName := fmt.Sprintf("media/%s", mediaID)
	expiry := time.Hour * 24
	reqParams := make(url.Values)
	presignedURL, err := MinioClient.PresignedGetObject(ctx, cfg.Bucket, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign media %s failed: %w", mediaID, err)
	}
	return presignedURL.String(), nil
}
