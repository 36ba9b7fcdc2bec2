// Package s3bucket ships binding manifest snapshots to S3-compatible object
// storage.
//
// A snapshot is the JSON manifest of one installation's bindings, keyed by
// generation time so listings read chronologically. Manifests carry key and
// salt fingerprints, never the values, so a bucket of snapshots discloses
// nothing that inverts identifiers; it exists to rebuild a lost registry and
// to audit parameter drift between installations.
package s3bucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/tarenord/seqveil"
)

// ObjectPutter defines the method used to upload a snapshot.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectGetter defines the method used to read a snapshot back.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectLister defines the method used to enumerate snapshots.
type ObjectLister interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// SnapshotClient is the slice of the S3 API the store needs. *s3.Client
// satisfies it, as do S3-compatible stores and test fakes.
type SnapshotClient interface {
	ObjectPutter
	ObjectGetter
	ObjectLister
}

// Config holds configuration for the snapshot store.
type Config struct {
	// Bucket receives the snapshots. Required.
	Bucket string

	// Prefix is the key prefix snapshots are written under.
	// Default: seqveil.DefaultSnapshotPrefix
	Prefix string

	// Region is the AWS region (e.g., "us-east-1")
	// If empty, uses AWS_REGION environment variable or AWS config file
	Region string

	// AWSConfig is an optional pre-configured AWS config
	// If provided, Region is ignored
	AWSConfig *aws.Config
}

// SnapshotStore writes and reads manifest snapshots in one bucket.
type SnapshotStore struct {
	client SnapshotClient
	bucket string
	prefix string
}

// snapshotTimeLayout keys snapshots so lexicographic order is chronological.
const snapshotTimeLayout = "20060102T150405Z"

// NewSnapshotStore creates a snapshot store over AWS S3.
//
// Usage:
//
//	store, err := s3bucket.NewSnapshotStore(ctx, s3bucket.Config{
//	    Bucket: "backups",
//	    Region: "us-east-1",
//	})
func NewSnapshotStore(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}

		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", seqveil.ErrSnapshotStoreUnavailable, err)
		}
	}

	return NewSnapshotStoreWithClient(s3.NewFromConfig(awsConfig), cfg.Bucket, cfg.Prefix)
}

// NewSnapshotStoreWithClient creates a snapshot store over an existing
// client, for custom endpoints and tests.
func NewSnapshotStoreWithClient(client SnapshotClient, bucket, prefix string) (*SnapshotStore, error) {
	if bucket == "" {
		return nil, seqveil.NewInvalidParameterError("bucket", bucket, "must not be empty")
	}
	if prefix == "" {
		prefix = seqveil.DefaultSnapshotPrefix
	}

	return &SnapshotStore{
		client: client,
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

// PutManifest uploads a manifest snapshot and returns the object key it was
// written under.
func (s *SnapshotStore) PutManifest(ctx context.Context, m seqveil.Manifest) (string, error) {
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}

	data, err := m.Encode()
	if err != nil {
		return "", err
	}

	// A short random suffix keeps two exports in the same second apart.
	key := fmt.Sprintf("%s/%s-%s.json",
		s.prefix, m.GeneratedAt.UTC().Format(snapshotTimeLayout), uuid.New().String()[:8])

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload manifest snapshot: %w", seqveil.ErrSnapshotStoreUnavailable, err)
	}

	log.Printf("Manifest snapshot uploaded to S3: %s/%s (%d bindings)", s.bucket, key, len(m.Bindings))
	return key, nil
}

// GetManifest reads a snapshot back by its object key.
func (s *SnapshotStore) GetManifest(ctx context.Context, key string) (seqveil.Manifest, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return seqveil.Manifest{}, fmt.Errorf("%w: no manifest snapshot at key '%s'", seqveil.ErrSnapshotStoreUnavailable, key)
		}
		return seqveil.Manifest{}, fmt.Errorf("%w: failed to get manifest snapshot: %w", seqveil.ErrSnapshotStoreUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return seqveil.Manifest{}, fmt.Errorf("%w: failed to read manifest snapshot body: %w", seqveil.ErrSnapshotStoreUnavailable, err)
	}

	return seqveil.DecodeManifest(data)
}

// ListManifests returns the keys of every snapshot under the store's prefix,
// oldest first. S3 lists keys lexicographically and snapshot keys start with
// their generation time, so no extra sorting is needed.
func (s *SnapshotStore) ListManifests(ctx context.Context) ([]string, error) {
	var keys []string
	var continuation *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix + "/"),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list manifest snapshots: %w", seqveil.ErrSnapshotStoreUnavailable, err)
		}

		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	return keys, nil
}

// LatestManifest reads back the most recent snapshot and the key it lives
// under.
func (s *SnapshotStore) LatestManifest(ctx context.Context) (seqveil.Manifest, string, error) {
	keys, err := s.ListManifests(ctx)
	if err != nil {
		return seqveil.Manifest{}, "", err
	}
	if len(keys) == 0 {
		return seqveil.Manifest{}, "", fmt.Errorf("%w: no manifest snapshots under prefix '%s'",
			seqveil.ErrSnapshotStoreUnavailable, s.prefix)
	}

	key := keys[len(keys)-1]
	m, err := s.GetManifest(ctx, key)
	if err != nil {
		return seqveil.Manifest{}, "", err
	}
	return m, key, nil
}
