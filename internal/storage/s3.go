package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"storefront-chat/internal/models"
)

// sniffLen is how much of an upload is read to detect its type.
const sniffLen = 3072

var ErrNotConfigured = errors.New("attachment storage not configured")

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PublicURL string
}

// Configured reports whether the minimum settings are present.
func (c S3Config) Configured() bool {
	return c.Endpoint != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// AttachmentStore persists uploaded files and returns their descriptor.
type AttachmentStore interface {
	Save(ctx context.Context, threadID int, name string, body io.Reader, size int64) (models.Attachment, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Storage stores attachments in an S3 compatible bucket.
type S3Storage struct {
	client    objectPutter
	bucket    string
	publicURL string
}

// NewS3Storage builds a MinIO client for cfg.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &S3Storage{client: cl, bucket: cfg.Bucket, publicURL: base}, nil
}

// Save uploads body under a fresh key scoped to the thread.
func (s *S3Storage) Save(ctx context.Context, threadID int, name string, body io.Reader, size int64) (models.Attachment, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return models.Attachment{}, err
	}
	head = head[:n]
	mtype := mimetype.Detect(head)

	key := ObjectKey(threadID, name, mtype.Extension())
	reader := io.MultiReader(bytes.NewReader(head), body)
	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: mtype.String(),
	})
	if err != nil {
		return models.Attachment{}, err
	}
	if info.Size > 0 {
		size = info.Size
	}

	return models.Attachment{
		URL:      s.publicURL + "/" + key,
		MimeType: mtype.String(),
		Name:     DisplayName(name),
		Size:     size,
	}, nil
}

// ObjectKey builds chat/<thread>/<uuid><ext>. The client supplied name never reaches the key.
func ObjectKey(threadID int, name, detectedExt string) string {
	ext := strings.ToLower(path.Ext(DisplayName(name)))
	if ext == "" || len(ext) > 10 {
		ext = detectedExt
	}
	return fmt.Sprintf("chat/%d/%s%s", threadID, uuid.NewString(), ext)
}

// DisplayName strips any directory part a client put in the file name.
func DisplayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
