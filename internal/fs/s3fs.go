package fs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3 connection settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty" json:"-"`
	PathStyle bool   `yaml:"path_style,omitempty" json:"path_style,omitempty"`
}

// S3ListAPI is the subset of the S3 client used for listing.
type S3ListAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3FS implements FileSystem over an S3 bucket. Common prefixes are reported
// as directories and objects as files; S3 has no symlinks.
type S3FS struct {
	client S3ListAPI
	bucket string
	prefix string
}

// NewS3FS creates an S3FS for a root of the form "s3://bucket/prefix".
func NewS3FS(client S3ListAPI, root string) (*S3FS, error) {
	bucket, prefix, err := ParseS3URI(root)
	if err != nil {
		return nil, err
	}
	return &S3FS{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewS3Client builds an S3 client from static or default credentials.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// ParseS3URI splits "s3://bucket/prefix" into bucket and key prefix without
// leading or trailing slashes.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 uri %q: missing s3:// scheme", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: missing bucket", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// Root returns the qualified scan root.
func (s *S3FS) Root() string { return s.uri(s.prefix) }

// Type returns "s3".
func (s *S3FS) Type() string { return TypeS3 }

func (s *S3FS) uri(key string) string {
	if key == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + key
}

// ListDir lists the objects and common prefixes directly below the given s3:// path.
func (s *S3FS) ListDir(ctx context.Context, p string) ([]FileStatus, error) {
	bucket, key, err := ParseS3URI(p)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucket {
		return nil, fmt.Errorf("path %q is outside bucket %q", p, s.bucket)
	}

	listPrefix := ""
	if key != "" {
		listPrefix = key + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})

	var result []FileStatus
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects s3://%s/%s: %w", s.bucket, listPrefix, err)
		}

		for _, cp := range page.CommonPrefixes {
			dirKey := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			result = append(result, FileStatus{
				Path:  s.uri(dirKey),
				Name:  strings.TrimPrefix(dirKey, listPrefix),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			objKey := aws.ToString(obj.Key)
			// directory placeholder objects
			if objKey == listPrefix || strings.HasSuffix(objKey, "/") {
				continue
			}
			status := FileStatus{
				Path: s.uri(objKey),
				Name: strings.TrimPrefix(objKey, listPrefix),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				status.ModTime = obj.LastModified.UnixMilli()
			}
			result = append(result, status)
		}
	}

	if result == nil {
		result = []FileStatus{}
	}
	return result, nil
}
