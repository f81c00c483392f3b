// Package snapshot uploads user-state snapshots to S3-compatible storage
// and generates pre-signed download URLs for device handoff. Snapshots are
// zstd-compressed JSON. When S3 is not configured (empty bucket), the
// NoopUploader is used and all S3 operations are skipped, keeping the
// system in local-only mode.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/types"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// Uploader uploads user-state snapshots and generates pre-signed download
// URLs.
type Uploader interface {
	// Upload compresses and uploads the user's state snapshot to S3.
	Upload(ctx context.Context, state *types.UserState) error

	// PresignedURL returns a pre-signed URL for downloading the snapshot.
	// Returns ErrNotConfigured when S3 is not configured.
	PresignedURL(ctx context.Context, userID string) (url string, expiry time.Time, err error)
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, payload []byte, snapshotID string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, payload []byte, snapshotID string) error {
	opts := minio.PutObjectOptions{
		ContentType:  "application/zstd",
		UserMetadata: map[string]string{"Snapshot-Id": snapshotID},
	}
	_, err := w.client.PutObject(ctx, bucket, objectName, bytes.NewReader(payload), int64(len(payload)), opts)
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader uploads snapshots to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	encoder   *zstd.Encoder
	bucket    string
	urlExpiry time.Duration
}

// Upload serializes, compresses, and uploads the user's state.
func (u *S3Uploader) Upload(ctx context.Context, state *types.UserState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state snapshot %s: %w", state.UserID, err)
	}
	compressed := u.encoder.EncodeAll(payload, nil)

	// Each upload carries its own id in object metadata so a stored snapshot
	// can be traced back to the upload cycle that produced it.
	key := objectKey(state.UserID)
	if err := u.client.PutObject(ctx, u.bucket, key, compressed, uuid.NewString()); err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for the user's snapshot.
func (u *S3Uploader) PresignedURL(ctx context.Context, userID string) (string, time.Time, error) {
	key := objectKey(userID)
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	expiry := time.Now().Add(u.urlExpiry)
	return presigned.String(), expiry, nil
}

// NoopUploader is used when S3 storage is not configured.
// Upload is a no-op and PresignedURL returns ErrNotConfigured.
type NoopUploader struct{}

// Upload is a no-op when S3 is not configured.
func (u *NoopUploader) Upload(ctx context.Context, state *types.UserState) error {
	return nil
}

// PresignedURL returns ErrNotConfigured when S3 is not configured.
func (u *NoopUploader) PresignedURL(ctx context.Context, userID string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.SnapshotStorageConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		encoder:   encoder,
		bucket:    cfg.Bucket,
		urlExpiry: time.Duration(cfg.URLExpiry),
	}, nil
}

// objectKey returns the S3 object key for a user's snapshot.
// Convention: users/{user_id}/state.json.zst
func objectKey(userID string) string {
	return "users/" + userID + "/state.json.zst"
}
