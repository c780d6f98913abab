package archive

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

const (
	maxObjectSize = 32 << 20
	maxUploads    = 4
)

// Config for the object store that keeps task workspaces after release.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// objectPutter is the slice of *minio.Client the archiver uses.
type objectPutter interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchiver uploads every file of a finished task's workspace under
// <prefix>/<run_id>/<batch>-<position>-<task_id>/.
type MinioArchiver struct {
	client objectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewMinioArchiver connects and makes sure the bucket exists.
func NewMinioArchiver(ctx context.Context, cfg Config, logger *slog.Logger) (*MinioArchiver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	return newArchiver(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newArchiver(client objectPutter, bucket, prefix string, logger *slog.Logger) *MinioArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioArchiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// ObjectPrefix is the key prefix for one task's files.
func (a *MinioArchiver) ObjectPrefix(task entity.Task) string {
	dir := fmt.Sprintf("b%03d-p%05d-%s", task.BatchIndex, task.Position, task.ID)
	return path.Join(a.prefix, task.RunID.String(), dir)
}

// Archive uploads the task's workspace. Files above 32MB are skipped.
func (a *MinioArchiver) Archive(ctx context.Context, task entity.Task) error {
	if task.Workspace == "" {
		return nil
	}
	start := time.Now()
	files, err := a.collect(task)
	if err != nil {
		a.logger.Warn("archive.walk_failed", "task_id", task.ID, "error", err)
		return err
	}

	prefix := a.ObjectPrefix(task)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxUploads)
	for _, rel := range files {
		g.Go(func() error {
			key := path.Join(prefix, filepath.ToSlash(rel))
			opts := minio.PutObjectOptions{
				ContentType:  contentType(rel),
				UserMetadata: map[string]string{"code": task.Code, "site": task.Site},
			}
			if _, err := a.client.FPutObject(gctx, a.bucket, key, filepath.Join(task.Workspace, rel), opts); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Warn("archive.failed", "task_id", task.ID, "error", err)
		return err
	}
	a.logger.Debug("archive.ok",
		"task_id", task.ID,
		"prefix", prefix,
		"files", len(files),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// collect lists regular files under the workspace relative to it.
func (a *MinioArchiver) collect(task entity.Task) ([]string, error) {
	var files []string
	err := filepath.WalkDir(task.Workspace, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxObjectSize {
			a.logger.Warn("archive.skip_large", "task_id", task.ID, "file", p, "size", info.Size())
			return nil
		}
		rel, err := filepath.Rel(task.Workspace, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func contentType(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	if ct, ok := constants.ArtifactContentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Noop keeps nothing.
type Noop struct{}

func (Noop) Archive(context.Context, entity.Task) error { return nil }
