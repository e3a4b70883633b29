package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/FollowTheProcess/capsules/internal/manifest"
)

// S3Config configures the S3 Backend: two buckets (entries
// and blobs), an optional region/endpoint override for MinIO-style S3
// peers, and a network timeout after which an operation degrades rather
// than stalling the build.
type S3Config struct {
	Bucket        string // Entry store bucket
	BucketObjects string // Blob store bucket
	Region        string
	Endpoint      string // Non-empty to target a MinIO-style peer
	Timeout       time.Duration
	Shard         bool // Prefix-shard keys by their first 2 hex chars
}

// S3 implements Backend against two S3-compatible buckets. Credentials
// follow standard AWS discovery (environment, shared credentials file).
type S3 struct {
	client  *s3.Client
	cfg     S3Config
	timeout time.Duration
}

// NewS3 builds an S3 backend from cfg, resolving credentials and region
// via the default AWS config chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" || cfg.BucketObjects == "" {
		return nil, fmt.Errorf("s3 backend requires both s3_bucket and s3_bucket_objects")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true // MinIO-style peers need path-style addressing
		}
	})

	return &S3{client: client, cfg: cfg, timeout: timeout}, nil
}

func (s *S3) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func shardedKey(shard bool, key string) string {
	if !shard || len(key) < 2 {
		return key
	}
	return key[:2] + "/" + key
}

func entryKey(shard bool, inputsHash string) string {
	return shardedKey(shard, inputsHash) + ".yaml"
}

func blobKey(shard bool, contentHash string) string {
	return shardedKey(shard, contentHash)
}

// isNotFound reports whether err represents a missing S3 object, mapped to
// ErrAbsent rather than a transport error.
func isNotFound(err error) bool {
	var nf *smithyhttp.ResponseError
	if errors.As(err, &nf) {
		return nf.HTTPStatusCode() == http.StatusNotFound
	}
	var noSuchKey *s3.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// LookupEntry fetches and parses the manifest stored under inputsHash.
func (s *S3) LookupEntry(ctx context.Context, inputsHash string) (manifest.Manifest, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	key := entryKey(s.cfg.Shard, inputsHash)
	out, err := s.client.GetObject(cctx, &s3.GetObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return manifest.Manifest{}, ErrAbsent
		}
		return manifest.Manifest{}, fmt.Errorf("s3 lookup_entry %s: %w", inputsHash, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("s3 lookup_entry %s: reading body: %w", inputsHash, err)
	}

	return manifest.Unmarshal(body)
}

// PutEntry unconditionally overwrites the entry for inputsHash.
func (s *S3) PutEntry(ctx context.Context, inputsHash string, m manifest.Manifest) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	body, err := manifest.Marshal(m)
	if err != nil {
		return err
	}

	key := entryKey(s.cfg.Shard, inputsHash)
	_, err = s.client.PutObject(cctx, &s3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("s3 put_entry %s: %w", inputsHash, err)
	}
	return nil
}

// FetchBlob downloads the bytes stored under contentHash.
func (s *S3) FetchBlob(ctx context.Context, contentHash string) ([]byte, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	key := blobKey(s.cfg.Shard, contentHash)
	out, err := s.client.GetObject(cctx, &s3.GetObjectInput{
		Bucket: &s.cfg.BucketObjects,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAbsent
		}
		return nil, fmt.Errorf("s3 fetch_blob %s: %w", contentHash, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 fetch_blob %s: reading body: %w", contentHash, err)
	}
	return body, nil
}

// PutBlob uploads data under contentHash. S3 PutObject is naturally
// idempotent for identical keys, satisfying the conditional-or-idempotent
// contract without a precondition check.
func (s *S3) PutBlob(ctx context.Context, contentHash string, data []byte) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	key := blobKey(s.cfg.Shard, contentHash)
	_, err := s.client.PutObject(cctx, &s3.PutObjectInput{
		Bucket: &s.cfg.BucketObjects,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put_blob %s: %w", contentHash, err)
	}
	return nil
}
