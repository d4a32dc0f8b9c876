package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"southwinds.dev/citadel/internal/crypto"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements the Store interface using MinIO as the backend. One
// store instance manages a single container object whose key is derived from
// the snapshot path:
//
//	bucketName/
//	└── [keyPrefix/]<snapshot-path>.container
//
// The container blob is opaque to the store; the engine encrypts it before
// it ever reaches this layer.
type S3Store struct {
	// client is the MinIO client used to interact with the MinIO server.
	client *minio.Client

	// bucketName is the name of the S3 bucket holding container objects.
	bucketName string

	// objectName is the fully prefixed key of this snapshot's container.
	objectName string
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string `json:"endpoint"`          // The endpoint for the S3 service.
	AccessKeyID     string `json:"access_key_id"`     // The Access Key ID for accessing the S3 service.
	SecretAccessKey string `json:"secret_access_key"` // The Secret Access Key for accessing the S3 service.
	Bucket          string `json:"bucket"`            // The S3 bucket to use.
	KeyPrefix       string `json:"key_prefix"`        // The prefix for container keys in the bucket.
	UseSSL          bool   `json:"use_ssl"`           // Whether to use SSL for the connection.
	Region          string `json:"region"`            // The region of the S3 bucket.
}

// NewS3Store initializes a new S3Store bound to one snapshot path. It
// establishes a connection to the MinIO server and ensures the configured
// bucket exists.
func NewS3Store(config S3Config, snapshotPath string) (*S3Store, error) {
	if err := validateSnapshotPath(snapshotPath); err != nil {
		return nil, err
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket name")
	}

	// Create MinIO client
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		objectName: buildObjectName(config.KeyPrefix, snapshotPath),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes a new S3Store instance from the given StoreConfig.
func NewS3StoreFromConfig(config StoreConfig, snapshotPath string) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for MinIO: %s", config.Type)
	}

	// Parse the config map into S3Config
	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config, snapshotPath)
}

// buildObjectName maps a snapshot path onto a bucket key. Path separators
// are preserved so related snapshots group naturally under a prefix.
func buildObjectName(keyPrefix, snapshotPath string) string {
	key := strings.TrimLeft(snapshotPath, "/")
	key = strings.ReplaceAll(key, "\\", "/")
	if !strings.HasSuffix(key, ".container") {
		key += ".container"
	}
	if keyPrefix == "" {
		return key
	}
	return strings.TrimSuffix(keyPrefix, "/") + "/" + key
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s3s.bucketName, err)
		}
	}
	return nil
}

// Load retrieves the container object
func (s3s *S3Store) Load() (*VersionedData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	obj, err := s3s.client.GetObject(ctx, s3s.bucketName, s3s.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get container object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, s3s.objectName)
		}
		return nil, fmt.Errorf("failed to read container object: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, s3s.objectName)
		}
		return nil, fmt.Errorf("failed to stat container object: %w", err)
	}

	return &VersionedData{
		Data:      data,
		Version:   crypto.Checksum(data),
		Timestamp: stat.LastModified,
	}, nil
}

// Save writes the container object with optimistic concurrency control.
// S3 object writes are already atomic; readers never observe partial data.
func (s3s *S3Store) Save(container []byte, expectedVersion string) (string, error) {
	if len(container) == 0 {
		return "", fmt.Errorf("container cannot be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if expectedVersion != "" {
		currentVersion, err := s3s.currentVersion(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to check current version: %w", err)
		}
		if currentVersion != expectedVersion {
			return "", ConcurrencyError{
				ExpectedVersion: expectedVersion,
				ActualVersion:   currentVersion,
				Operation:       "Save",
			}
		}
	}

	newVersion := crypto.Checksum(container)

	_, err := s3s.client.PutObject(ctx, s3s.bucketName, s3s.objectName,
		bytes.NewReader(container), int64(len(container)),
		minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: map[string]string{"citadel-checksum": newVersion},
		})
	if err != nil {
		return "", fmt.Errorf("failed to put container object: %w", err)
	}

	return newVersion, nil
}

// Exists checks whether the container object is present
func (s3s *S3Store) Exists() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s3s.client.StatObject(ctx, s3s.bucketName, s3s.objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat container object: %w", err)
	}
	return true, nil
}

// Delete removes the container object if it exists
func (s3s *S3Store) Delete() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err := s3s.client.RemoveObject(ctx, s3s.bucketName, s3s.objectName, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete container object: %w", err)
	}
	return nil
}

// Ping tests connectivity to the S3 endpoint
func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("s3 connectivity check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

func (s3s *S3Store) currentVersion(ctx context.Context) (string, error) {
	obj, err := s3s.client.GetObject(ctx, s3s.bucketName, s3s.objectName, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return "", nil
		}
		return "", err
	}
	return crypto.Checksum(data), nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
