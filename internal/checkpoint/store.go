package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store reads and writes the checkpoint document. Read returns New() when no
// checkpoint has been written yet.
type Store interface {
	Read(ctx context.Context) (Checkpoint, error)
	Write(ctx context.Context, cp Checkpoint) error
}

func decode(data []byte) (Checkpoint, error) {
	cp := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return cp, nil
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, wrapError(CodeCorrupt, false, err)
	}
	return cp, nil
}

// FileStore keeps the checkpoint in a local JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Read(ctx context.Context) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return Checkpoint{}, wrapError(CodeEndpointUnreachable, true, err)
	}
	return decode(data)
}

// Write replaces the file atomically: a reader sees either the previous or
// the new document, never a partial one.
func (s *FileStore) Write(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return wrapError(CodeWriteFailed, false, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := tmp.Close(); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

// ObjectAPI is the subset of an S3-compatible client the object store needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ObjectStore keeps the checkpoint as a single object.
type ObjectStore struct {
	api ObjectAPI
	key string
}

// NewObjectStore returns a store that keeps the checkpoint under key.
func NewObjectStore(api ObjectAPI, key string) *ObjectStore {
	return &ObjectStore{api: api, key: key}
}

func (s *ObjectStore) Read(ctx context.Context) (Checkpoint, error) {
	data, err := s.api.GetObject(ctx, s.key)
	if IsNotFound(err) {
		return New(), nil
	}
	if err != nil {
		return Checkpoint{}, err
	}
	return decode(data)
}

func (s *ObjectStore) Write(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return wrapError(CodeWriteFailed, false, err)
	}
	return s.api.PutObject(ctx, s.key, data)
}

// BucketConfig configures a MinioBucket.
type BucketConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioBucket implements ObjectAPI on one bucket with minio-go.
type MinioBucket struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioBucket creates a client for cfg. Endpoint may be a host:port or a
// URL; an https scheme turns on TLS.
func NewMinioBucket(cfg BucketConfig) (*MinioBucket, error) {
	if cfg.Endpoint == "" {
		return nil, wrapError(CodeEndpointUnreachable, false, errors.New("endpoint is required"))
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, errors.New("bucket is required"))
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, errors.New("credentials are required"))
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("failed to create minio client: %w", err))
	}
	return &MinioBucket{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (b *MinioBucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (b *MinioBucket) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (b *MinioBucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinioError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinioError(err)
	}
	return data, nil
}
