package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures the S3 adapter.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3 implements Store against an S3-compatible bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds a client from the default AWS credential chain, or static
// credentials when both keys are set. SDK-level retries are disabled so the
// Retrying decorator is the only retry policy in effect.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("s3: bucket is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewS3FromClient(client, opts.Bucket), nil
}

// NewS3FromClient wraps an existing client.
func NewS3FromClient(client *s3.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Bucket returns the bucket this adapter operates on.
func (s *S3) Bucket() string { return s.bucket }

func (s *S3) List(ctx context.Context, in ListInput) (ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(in.Prefix),
	}
	if in.Delimiter != "" {
		input.Delimiter = aws.String(in.Delimiter)
	}
	if in.ContinuationToken != "" {
		input.ContinuationToken = aws.String(in.ContinuationToken)
	}
	if in.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(int32(in.MaxKeys))
	}
	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return ListPage{}, s.wrap("list", in.Prefix, err)
	}

	page := ListPage{
		Objects:               make([]ObjectRecord, 0, len(out.Contents)),
		NextContinuationToken: aws.ToString(out.NextContinuationToken),
		Truncated:             aws.ToBool(out.IsTruncated),
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, ObjectRecord{
			Key:          aws.ToString(obj.Key),
			SizeBytes:    aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
		})
	}
	for _, prefix := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(prefix.Prefix))
	}
	return page, nil
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectRecord, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectRecord{}, s.wrap("stat", key, err)
	}
	return ObjectRecord{
		Key:          key,
		SizeBytes:    aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:     out.Metadata,
	}, nil
}

func (s *S3) Copy(ctx context.Context, in CopyInput) error {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(in.DestKey),
		CopySource: aws.String(copySource(s.bucket, in.SourceKey)),
	}
	if in.Metadata != nil {
		input.Metadata = in.Metadata
		input.MetadataDirective = types.MetadataDirectiveReplace
	}
	if _, err := s.client.CopyObject(ctx, input); err != nil {
		return s.wrap("copy", in.SourceKey, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if Classify(err) == ClassNotFound {
			return nil
		}
		return s.wrap("delete", key, err)
	}
	return nil
}

func (s *S3) PutMarker(ctx context.Context, key string, metadata map[string]string, ifAbsent bool) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
		Metadata:      metadata,
	}
	if ifAbsent {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.wrap("put", key, err)
	}
	return nil
}

// wrap attaches the matching sentinel so callers can use errors.Is without
// knowing about SDK error types.
func (s *S3) wrap(op, key string, err error) error {
	switch Classify(err) {
	case ClassNotFound:
		return fmt.Errorf("s3 %s %q: %w: %w", op, key, ErrNotFound, err)
	case ClassPreconditionFailed:
		return fmt.Errorf("s3 %s %q: %w: %w", op, key, ErrPreconditionFailed, err)
	case ClassAccessDenied:
		return fmt.Errorf("s3 %s %q: %w: %w", op, key, ErrAccessDenied, err)
	case ClassTemporary:
		return fmt.Errorf("s3 %s %q: %w: %w", op, key, ErrTransient, err)
	default:
		return fmt.Errorf("s3 %s %q: %w", op, key, err)
	}
}

// copySource renders "bucket/key" with each key segment URL-encoded.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
