// Package backup uploads files recorded in the sync ledger to an
// S3-compatible bucket.
package backup

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
)

// DigestMetadataKey is the user metadata key holding the BLAKE2b-256 digest
// of an uploaded file
const DigestMetadataKey = "blake2b-256"

// Ledger is the part of the sync ledger the backup needs
type Ledger interface {
	GetPendingBackups() ([]models.FileRecord, error)
	MarkBackedUp(course string, localPaths []string) error
}

// Uploader stores objects. *minio.Client implements it.
type Uploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds the destination bucket settings
type Config struct {
	Endpoint   string
	Bucket     string
	Folder     string
	AccessKey  string
	SecretKey  string
	Insecure   bool
	NumWorkers int
	// Progress receives a byte progress bar; nil disables it
	Progress io.Writer
}

// Summary counts what a backup did
type Summary struct {
	Uploaded     int64
	UploadedSize int64
	Missing      int64
	Failed       int64
}

// Backuper uploads downloaded course files
type Backuper struct {
	ledger   Ledger
	uploader Uploader
	fs       afero.Fs
	root     string
	config   Config
}

// New creates a Backuper uploading files below root to the configured bucket
func New(ledger Ledger, fs afero.Fs, root string, config Config) (*Backuper, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure:       !config.Insecure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return newBackuper(ledger, client, fs, root, config), nil
}

func newBackuper(ledger Ledger, uploader Uploader, fs afero.Fs, root string, config Config) *Backuper {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}
	return &Backuper{
		ledger:   ledger,
		uploader: uploader,
		fs:       fs,
		root:     root,
		config:   config,
	}
}

// ObjectName maps a ledger path onto an object name inside folder
func ObjectName(folder, localPath string) string {
	return strings.TrimPrefix(path.Join(folder, filepath.ToSlash(localPath)), "/")
}

// Run uploads every pending file. Files that vanished locally or fail to
// upload are logged and counted; they stay pending for the next run.
func (b *Backuper) Run(ctx context.Context) (*Summary, error) {
	files, err := b.ledger.GetPendingBackups()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending backups: %w", err)
	}

	var totalSize int64
	for _, file := range files {
		totalSize += file.Size
	}
	log.WithField("files", len(files)).WithField("bucket", b.config.Bucket).Info("Starting backup")

	var bar *pb.ProgressBar
	if b.config.Progress != nil {
		bar = pb.New64(totalSize)
		bar.Set(pb.Bytes, true)
		bar.SetWriter(b.config.Progress)
		bar.SetTemplateString(`Backup {{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
		bar.Start()
		defer bar.Finish()
	}

	var (
		mu      sync.Mutex
		summary Summary
		done    = make(map[string][]string)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.NumWorkers)
	for _, file := range files {
		file := file
		g.Go(func() error {
			size, err := b.upload(ctx, file)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Uploaded++
				summary.UploadedSize += size
				done[file.Course] = append(done[file.Course], file.LocalPath)
				if bar != nil {
					bar.Add64(size)
				}
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, iofs.ErrNotExist):
				log.WithField("path", file.LocalPath).Warn("Skipping backup: file no longer exists")
				summary.Missing++
			default:
				log.WithError(err).WithField("path", file.LocalPath).Error("Failed to back up file")
				summary.Failed++
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for course, paths := range done {
		if err := b.ledger.MarkBackedUp(course, paths); err != nil {
			return &summary, fmt.Errorf("failed to update ledger: %w", err)
		}
	}
	if waitErr != nil {
		return &summary, waitErr
	}
	return &summary, nil
}

// upload hashes the file, then streams it to the bucket with the digest as
// user metadata
func (b *Backuper) upload(ctx context.Context, file models.FileRecord) (int64, error) {
	local, err := b.fs.Open(filepath.Join(b.root, filepath.FromSlash(file.LocalPath)))
	if err != nil {
		return 0, err
	}
	defer local.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(hash, local)
	if err != nil {
		return 0, err
	}
	if _, err := local.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	object := ObjectName(b.config.Folder, file.LocalPath)
	_, err = b.uploader.PutObject(ctx, b.config.Bucket, object, local, size, minio.PutObjectOptions{
		UserMetadata: map[string]string{
			DigestMetadataKey: hex.EncodeToString(hash.Sum(nil)),
			"course":          file.Course,
		},
	})
	if err != nil {
		if minioErr, ok := err.(minio.ErrorResponse); ok {
			return 0, fmt.Errorf("failed to upload %s: %s: %s", object, minioErr.Code, minioErr.Message)
		}
		return 0, fmt.Errorf("failed to upload %s: %w", object, err)
	}
	return size, nil
}
