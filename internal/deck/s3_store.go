package deck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/deckstore/pkg/models"
)

// S3StoreConfig configures the S3-compatible durable backend.
type S3StoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// DefaultS3StoreConfig returns the default configuration.
func DefaultS3StoreConfig() *S3StoreConfig {
	return &S3StoreConfig{
		Region: "us-east-1",
	}
}

// s3API is the subset of the S3 client the store uses, extracted so tests can
// substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store is the durable primary tier, keeping document blobs and version
// snapshots in an S3-compatible bucket. Object layout under the prefix:
//
//	presentations/<id>.json
//	versions/<presentation-id>/index.json
//	versions/<presentation-id>/<version-id>.json
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed presentation store.
func NewS3Store(ctx context.Context, cfg *S3StoreConfig) (*S3Store, error) {
	if cfg == nil {
		cfg = DefaultS3StoreConfig()
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Store) Save(ctx context.Context, p *models.Presentation) error {
	if p == nil || p.ID == "" {
		return ErrValidation
	}
	return s.putJSON(ctx, s.deckKey(p.ID), p)
}

func (s *S3Store) Load(ctx context.Context, id string) (*models.Presentation, error) {
	var p models.Presentation
	if err := s.getJSON(ctx, s.deckKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *S3Store) List(ctx context.Context) ([]models.PresentationSummary, error) {
	keys, err := s.listKeys(ctx, s.key("presentations")+"/")
	if err != nil {
		return nil, err
	}
	out := make([]models.PresentationSummary, 0, len(keys))
	for _, key := range keys {
		var p models.Presentation
		if err := s.getJSON(ctx, key, &p); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // deleted between list and get
			}
			return nil, err
		}
		out = append(out, p.Summary())
	}
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	key := s.deckKey(id)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return s.mapError("head object", err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return s.mapError("delete object", err)
	}
	return nil
}

func (s *S3Store) SaveVersion(ctx context.Context, v *models.Version) error {
	if v == nil || v.PresentationID == "" || v.VersionID == "" {
		return ErrValidation
	}
	if err := s.putJSON(ctx, s.versionKey(v.PresentationID, v.VersionID), v); err != nil {
		return err
	}

	idx := versionIndex{Version: 1}
	err := s.getJSON(ctx, s.versionIndexKey(v.PresentationID), &idx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	idx.Versions = append(idx.Versions, v.Summary())
	return s.putJSON(ctx, s.versionIndexKey(v.PresentationID), idx)
}

func (s *S3Store) ListVersions(ctx context.Context, presentationID string) ([]models.VersionSummary, error) {
	idx := versionIndex{Version: 1}
	if err := s.getJSON(ctx, s.versionIndexKey(presentationID), &idx); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]models.VersionSummary, 0, len(idx.Versions))
	for i := len(idx.Versions) - 1; i >= 0; i-- { // newest first
		out = append(out, idx.Versions[i])
	}
	return out, nil
}

func (s *S3Store) LoadVersion(ctx context.Context, presentationID, versionID string) (*models.Version, error) {
	var v models.Version
	if err := s.getJSON(ctx, s.versionKey(presentationID, versionID), &v); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *S3Store) DeleteVersions(ctx context.Context, presentationID string) error {
	keys, err := s.listKeys(ctx, s.key("versions", presentationID)+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		}); err != nil {
			return s.mapError("delete version object", err)
		}
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return s.mapError("put object", err)
	}
	return nil
}

func (s *S3Store) getJSON(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return s.mapError("get object", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("%w: read object body: %v", ErrBackendUnavailable, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, s.mapError("list objects", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}
	return keys, nil
}

// mapError translates S3 failures into the tier taxonomy: missing objects are
// ErrNotFound, everything else is a reachability failure the facade may
// recover from.
func (s *S3Store) mapError(op string, err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if strings.EqualFold(code, "NotFound") || strings.EqualFold(code, "NoSuchKey") {
			return ErrNotFound
		}
	}
	return fmt.Errorf("%w: s3 %s: %v", ErrBackendUnavailable, op, err)
}

func (s *S3Store) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3Store) deckKey(id string) string {
	return s.key("presentations", id+".json")
}

func (s *S3Store) versionKey(presentationID, versionID string) string {
	return s.key("versions", presentationID, versionID+".json")
}

func (s *S3Store) versionIndexKey(presentationID string) string {
	return s.key("versions", presentationID, "index.json")
}
