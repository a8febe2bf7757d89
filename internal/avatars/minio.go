// Package avatars stores user avatar images in an S3-compatible bucket.
package avatars

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads an avatar and returns its public URI. An upload failure
// aborts the registration that requested it.
type Store interface {
	Upload(ctx context.Context, filename string, contentType string, size int64, body io.Reader) (string, error)
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	MaxSizeBytes  int64
}

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Some clients omit the part content type; the filename extension is the
// fallback.
var extContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

type minioStore struct {
	cfg    Config
	client *mclient.Client
}

// New creates the MinIO-backed store. The endpoint scheme selects Secure;
// the bucket must exist already (fail fast on start).
func New(ctx context.Context, cfg Config) (Store, error) {
	endpoint := cfg.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client error: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check error: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	return &minioStore{cfg: cfg, client: client}, nil
}

func (s *minioStore) Upload(ctx context.Context, filename string, contentType string, size int64, body io.Reader) (string, error) {
	if contentType == "" {
		contentType = extContentTypes[strings.ToLower(path.Ext(filename))]
	}

	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", fmt.Errorf("content type %q is not allowed", contentType)
	}

	if size <= 0 || (s.cfg.MaxSizeBytes > 0 && size > s.cfg.MaxSizeBytes) {
		return "", fmt.Errorf("avatar size %d is out of bounds", size)
	}

	key := path.Join("avatars", uuid.NewString()+ext)

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, body, size, mclient.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio upload error: %w", err)
	}

	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return base + "/" + key, nil
}
