package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.key, f.contentType, f.body = bucket, key, opts.ContentType, data
	return minio.UploadInfo{Size: int64(len(data))}, nil
}

func TestSaveDetectsTypeAndKeepsBody(t *testing.T) {
	putter := &fakePutter{}
	s := &S3Storage{client: putter, bucket: "chat", publicURL: "https://cdn.example.com"}

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 5000)...)
	att, err := s.Save(context.Background(), 4, "../../photo.png", bytes.NewReader(png), int64(len(png)))
	require.NoError(t, err)

	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, "photo.png", att.Name)
	assert.Equal(t, int64(len(png)), att.Size)
	assert.True(t, strings.HasPrefix(putter.key, "chat/4/"))
	assert.True(t, strings.HasSuffix(putter.key, ".png"))
	assert.Equal(t, "https://cdn.example.com/"+putter.key, att.URL)
	assert.Equal(t, png, putter.body)
	assert.Equal(t, "chat", putter.bucket)
}

func TestSaveSmallTextFile(t *testing.T) {
	putter := &fakePutter{}
	s := &S3Storage{client: putter, bucket: "chat", publicURL: "http://minio/chat"}

	att, err := s.Save(context.Background(), 1, "notes", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(att.MimeType, "text/plain"))
	assert.Equal(t, []byte("hello"), putter.body)
	assert.True(t, strings.HasSuffix(putter.key, ".txt"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "a.pdf", DisplayName(`C:\tmp\a.pdf`))
	assert.Equal(t, "file", DisplayName("  "))
	assert.Equal(t, "x", DisplayName("/etc/x"))
}

func TestNewS3StorageRequiresConfig(t *testing.T) {
	_, err := NewS3Storage(S3Config{Endpoint: "localhost:9000"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
