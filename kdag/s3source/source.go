// Package s3source loads graph snapshots from an S3-compatible bucket.
package s3source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/birdayz/trench/kdag"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gopkg.in/yaml.v3"
)

// Config locates one snapshot object.
type Config struct {
	Endpoint  string `yaml:"endpoint" validate:"required"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket" validate:"required"`
	// Object is the key of the snapshot. Its extension selects the format.
	Object string `yaml:"object" validate:"required"`
}

// Source reads a snapshot object. It implements kdag.Source.
type Source struct {
	client *minio.Client
	bucket string
	object string
	format kdag.Format
}

// New creates a Source. It does not contact the server.
func New(cfg Config) (*Source, error) {
	format, err := kdag.FormatFromPath(cfg.Object)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}
	return &Source{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
		format: format,
	}, nil
}

func (s *Source) Load(ctx context.Context) ([]kdag.NodeDef, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, s.object, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, s.object, err)
	}
	return kdag.Decode(data, s.format)
}

// Publish writes nodes as the snapshot object, creating the bucket if it
// does not exist yet.
func (s *Source) Publish(ctx context.Context, nodes []kdag.NodeDef) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	snap := kdag.Snapshot{Nodes: nodes}
	var (
		data []byte
		err  error
	)
	switch s.format {
	case kdag.FormatJSON:
		data, err = json.Marshal(snap)
	case kdag.FormatYAML:
		data, err = yaml.Marshal(snap)
	}
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, s.object, err)
	}
	return nil
}

func (s *Source) ensureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	exists, errExists := s.client.BucketExists(ctx, s.bucket)
	if errExists == nil && exists {
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", s.bucket, err)
}

var _ kdag.Source = (*Source)(nil)
