package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ErrNotImage is returned for uploads the image model could not read.
var ErrNotImage = errors.New("not a supported image")

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// Uploader publishes product photos so the image model can fetch them by URL.
type Uploader struct {
	client  *s3.Client
	bucket  string
	baseURL string
	prefix  string
}

func NewUploader(cfg Config) (*Uploader, error) {
	required := []struct {
		name  string
		value string
	}{
		{"bucket", cfg.Bucket},
		{"region", cfg.Region},
		{"access key", cfg.AccessKey},
		{"secret key", cfg.SecretKey},
		{"public base url", cfg.PublicBaseURL},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("s3 config incomplete: missing %s", strings.Join(missing, ", "))
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "products"
	}
	return &Uploader{
		client:  s3.New(options),
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		prefix:  prefix,
	}, nil
}

// Upload publishes a product photo under a fresh key and returns its public URL.
// filename only decides the format; bytes are sniffed when it has no known extension.
func (u *Uploader) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	format, ok := formatOf(filename, data)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotImage, filename)
	}

	key := u.productKey(format)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(format.contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload product photo: %w", err)
	}
	return u.baseURL + "/" + key, nil
}

func (u *Uploader) productKey(f imageFormat) string {
	return path.Join(u.prefix, uuid.NewString()+f.ext)
}

type imageFormat struct {
	ext         string
	contentType string
}

var imageFormats = []imageFormat{
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".png", "image/png"},
	{".webp", "image/webp"},
}

func formatOf(filename string, data []byte) (imageFormat, bool) {
	ext := strings.ToLower(path.Ext(filename))
	for _, f := range imageFormats {
		if f.ext == ext {
			return f, true
		}
	}
	sniffed := http.DetectContentType(data)
	for _, f := range imageFormats {
		if f.contentType == sniffed {
			return f, true
		}
	}
	return imageFormat{}, false
}
