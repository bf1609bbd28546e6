// Package s3 reads reference readings from and ships baseline snapshots to
// S3-compatible object storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	lgio "github.com/hed1ad/lakeguard/pkg/io"
	"github.com/hed1ad/lakeguard/pkg/io/csv"
	"github.com/hed1ad/lakeguard/pkg/water"
)

var log = logrus.WithField("component", "s3")

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Config locates the bucket and the objects the store reads and writes.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Secure          bool
	ReferenceObject string
	SnapshotObject  string

	// Region skips the bucket location lookup when set.
	Region string
}

// Store reads and writes the configured objects.
type Store struct {
	client *minio.Client
	cfg    Config
}

var _ lgio.ReferenceLoader = (*Store)(nil)

// New creates the client and checks that the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}

	found, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("accessing S3 bucket %s: %w", cfg.Bucket, err)
	}
	if !found {
		return nil, fmt.Errorf("S3 bucket %s does not exist", cfg.Bucket)
	}
	log.Infof("Bucket %s found", cfg.Bucket)
	return &Store{client: client, cfg: cfg}, nil
}

// LoadReference downloads and parses the reference CSV object.
func (s *Store) LoadReference(ctx context.Context) ([]water.Reading, error) {
	data, err := s.get(ctx, s.cfg.ReferenceObject)
	if err != nil {
		return nil, err
	}
	r, err := csv.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.ReferenceObject, err)
	}
	refs, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.ReferenceObject, err)
	}
	if skipped := r.Skipped(); skipped > 0 {
		log.WithField("object", s.cfg.ReferenceObject).Warnf("skipped %d malformed rows", skipped)
	}
	return refs, nil
}

// PutReference uploads a reference CSV.
func (s *Store) PutReference(ctx context.Context, data []byte) error {
	return s.put(ctx, s.cfg.ReferenceObject, data, "text/csv")
}

// PutSnapshot uploads an encoded baseline.
func (s *Store) PutSnapshot(ctx context.Context, data []byte) error {
	return s.put(ctx, s.cfg.SnapshotObject, data, "application/octet-stream")
}

// GetSnapshot downloads an encoded baseline.
func (s *Store) GetSnapshot(ctx context.Context) ([]byte, error) {
	return s.get(ctx, s.cfg.SnapshotObject)
}

func (s *Store) put(ctx context.Context, object string, data []byte, contentType string) error {
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("writing %s to object store: %w", object, err)
	}
	log.Debugf("uploadInfo = %v", info)
	return nil
}

func (s *Store) get(ctx context.Context, object string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", object, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", object, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", object, err)
	}
	return data, nil
}
