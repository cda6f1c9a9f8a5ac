package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"ucaep.org/internal/content"
)

// S3Uploader stores uploaded files in an S3 bucket and returns the public URL.
type S3Uploader struct {
	client    *s3.Client
	bucket    string
	region    string
	publicURL string
}

// NewS3Uploader loads the default AWS config and targets the given bucket.
// publicURL overrides the default virtual-hosted URL base, for CDN fronting.
func NewS3Uploader(ctx context.Context, bucket, region, publicURL string) (*S3Uploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("upload: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Uploader{
		client:    s3.NewFromConfig(cfg),
		bucket:    bucket,
		region:    region,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Upload stores the file under a collision-free key and returns its URL.
func (u *S3Uploader) Upload(ctx context.Context, up content.FileUpload) (string, error) {
	if len(up.Data) == 0 {
		return "", errors.New("upload: empty file")
	}
	key := objectKey(up.Folder, up.Name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(up.Data),
		ContentType: aws.String(contentTypeOr(up.ContentType)),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}
	if u.publicURL != "" {
		return u.publicURL + "/" + key, nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key), nil
}

// objectKey builds folder/uuid.ext so re-uploads of the same file never clash.
func objectKey(folder, name string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "uploads"
	}
	ext := strings.ToLower(path.Ext(name))
	return folder + "/" + uuid.NewString() + ext
}

func contentTypeOr(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}
