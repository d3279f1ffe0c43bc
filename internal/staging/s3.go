package staging

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// S3Reader is the subset of the S3 API a S3Source needs.
type S3Reader interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Writer is the subset of the S3 API a S3Sink needs.
type S3Writer interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// normalizePrefix returns prefix with exactly one trailing slash, or "".
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// S3Source reads staged bundles from s3://{bucket}/{prefix}/bundle-*.json.
// Objects in deeper "subdirectories" of the prefix are ignored.
type S3Source struct {
	client  S3Reader
	bucket  string
	prefix  string
	maxSize int64
}

func NewS3Source(client S3Reader, bucket, prefix string) (*S3Source, error) {
	if client == nil {
		return nil, xerrors.New("staging: s3 client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("staging: s3 bucket is required")
	}
	return &S3Source{client: client, bucket: bucket, prefix: normalizePrefix(prefix), maxSize: MaxBundleSize}, nil
}

func (s *S3Source) String() string { return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix) }

func (s *S3Source) List(ctx context.Context) ([]Candidate, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var out []Candidate
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(err, "list s3://%s/%s", s.bucket, s.prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, s.prefix)
			if rel == "" || strings.Contains(rel, "/") || !MatchName(rel) {
				continue
			}
			out = append(out, Candidate{Name: path.Base(key), Key: key})
		}
	}
	return out, nil
}

func (s *S3Source) Read(ctx context.Context, c Candidate) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(c.Key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", s.bucket, c.Key)
	}
	defer out.Body.Close()

	data, err := readLimited(out.Body, s.maxSize)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", s.bucket, c.Key)
	}
	return data, nil
}

// S3Sink writes results to s3://{bucket}/{prefix}/processed-{bundleId}.json.
type S3Sink struct {
	client S3Writer
	bucket string
	prefix string
}

func NewS3Sink(client S3Writer, bucket, prefix string) (*S3Sink, error) {
	if client == nil {
		return nil, xerrors.New("staging: s3 client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("staging: s3 bucket is required")
	}
	return &S3Sink{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}, nil
}

func (s *S3Sink) String() string { return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix) }

func (s *S3Sink) Write(ctx context.Context, r bundle.Result) (string, error) {
	name, err := OutputName(r.BundleID)
	if err != nil {
		return "", err
	}
	data, err := EncodeResult(r)
	if err != nil {
		return "", err
	}

	key := s.prefix + name
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
