// Package upload copies finished event clips to S3-compatible object
// storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jmylchreest/vidgate/internal/config"
	"github.com/jmylchreest/vidgate/internal/eventwriter"
	"github.com/jmylchreest/vidgate/internal/version"
)

// ClipContentType is the content type of uploaded clips.
const ClipContentType = "video/mp2t"

// ObjectStore is the part of *minio.Client the uploader needs.
type ObjectStore interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader uploads each ended event's clip to "<bucket>/<stream>/<id>.ts".
type Uploader struct {
	store  ObjectStore
	bucket string
	retain bool
	logger *slog.Logger
}

var _ eventwriter.Hook = (*Uploader)(nil)

// Option configures an Uploader.
type Option func(*Uploader)

// WithRetainLocally keeps the local clip after a successful upload.
func WithRetainLocally(retain bool) Option {
	return func(u *Uploader) { u.retain = retain }
}

func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// New creates an uploader on an existing store.
func New(store ObjectStore, bucket string, opts ...Option) *Uploader {
	u := &Uploader{store: store, bucket: bucket, retain: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Connect creates a MinIO client from cfg and makes sure the bucket exists.
func Connect(ctx context.Context, cfg config.MinioConfig, opts ...Option) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	client.SetAppInfo(version.ApplicationName, version.Version)

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return New(client, cfg.Bucket, opts...), nil
}

// ObjectKey returns the object name of an event clip.
func ObjectKey(stream, eventID string) string {
	return path.Join(stream, eventID+".ts")
}

func (u *Uploader) Name() string { return "upload" }

func (u *Uploader) EventStarted(context.Context, *eventwriter.Event) error { return nil }

// EventEnded uploads the clip and sets ev.ObjectKey. Events without a clip
// file are skipped.
func (u *Uploader) EventEnded(ctx context.Context, ev *eventwriter.Event) error {
	if ev.Path == "" {
		return nil
	}
	key := ObjectKey(ev.Stream, ev.ID)
	info, err := u.store.FPutObject(ctx, u.bucket, key, ev.Path, minio.PutObjectOptions{
		ContentType: ClipContentType,
		UserMetadata: map[string]string{
			"event-id":   ev.ID,
			"stream":     ev.Stream,
			"started-at": ev.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	ev.ObjectKey = key
	u.logger.Info("clip uploaded",
		slog.String("event_id", ev.ID),
		slog.String("bucket", u.bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size))

	if !u.retain {
		if err := os.Remove(ev.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing uploaded clip: %w", err)
		}
		ev.Path = ""
	}
	return nil
}
