package specdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/programme-lv/autotest/s3bucket"
)

// S3Store keeps zstd-compressed documents at autotest/<id>/settings.json.zst
// and test files under autotest/<id>/files/.
type S3Store struct {
	bucket *s3bucket.S3Bucket
}

func NewS3Store(bucket *s3bucket.S3Bucket) *S3Store {
	return &S3Store{bucket: bucket}
}

func docKey(assignmentID int64) string {
	return fmt.Sprintf("autotest/%d/%s.zst", assignmentID, settingsFileName)
}

func filesPrefix(assignmentID int64) string {
	return fmt.Sprintf("autotest/%d/%s/", assignmentID, filesDirName)
}

func (s *S3Store) Load(ctx context.Context, assignmentID int64) (Document, error) {
	compressed, err := s.bucket.Download(ctx, docKey(assignmentID))
	if err != nil {
		if errors.Is(err, s3bucket.ErrNotFound) {
			return Document{}, nil
		}
		return nil, err
	}
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress spec document: %w", err)
	}
	return Parse(data)
}

// Save relies on S3 PutObject replacing the object atomically.
func (s *S3Store) Save(ctx context.Context, assignmentID int64, doc Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal spec document: %w", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress spec document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to compress spec document: %w", err)
	}
	return s.bucket.Upload(ctx, buf.Bytes(), docKey(assignmentID), "application/zstd")
}

func (s *S3Store) List(ctx context.Context, assignmentID int64) ([]string, error) {
	prefix := filesPrefix(assignmentID)
	keys, err := s.bucket.ListFiles(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Store) Open(ctx context.Context, assignmentID int64, name string) (io.ReadCloser, error) {
	return s.bucket.Open(ctx, filesPrefix(assignmentID)+name)
}
