package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/authservice/internal/server/config"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// ErrAttachmentsDisabled is returned by PresignUpload when no bucket is
// configured.
var ErrAttachmentsDisabled = errors.New("attachment storage is not configured")

// AttachmentResolver turns a stored attachment reference into something a
// client can fetch.
type AttachmentResolver interface {
	Resolve(ctx context.Context, attachment string) (string, error)
}

// AttachmentSigner presigns GET URLs for attachments stored as object keys.
// Absolute URLs are returned as-is. With no bucket configured every value
// passes through.
type AttachmentSigner struct {
	config *sc.Config

	mu     sync.Mutex
	client *s3.PresignClient
}

func NewAttachmentSigner(cfg *sc.Config) *AttachmentSigner {
	return &AttachmentSigner{config: cfg}
}

func (s *AttachmentSigner) Enabled() bool {
	return s.config.S3Bucket != ""
}

func (s *AttachmentSigner) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	s.client = newS3PresignClient(client)
	return s.client, nil
}

func (s *AttachmentSigner) Resolve(ctx context.Context, attachment string) (string, error) {
	if attachment == "" || !s.Enabled() || isAbsoluteURL(attachment) {
		return attachment, nil
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 presign client: %w", err)
	}

	bucket := s.config.S3Bucket
	key := attachment
	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.urlValidity()))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}

	return req.URL, nil
}

// PresignUpload returns a URL accepting a single PUT of the object key.
func (s *AttachmentSigner) PresignUpload(ctx context.Context, key string) (string, error) {
	if !s.Enabled() {
		return "", ErrAttachmentsDisabled
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 presign client: %w", err)
	}

	bucket := s.config.S3Bucket
	req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.urlValidity()))
	if err != nil {
		return "", fmt.Errorf("presign upload %q: %w", key, err)
	}

	return req.URL, nil
}

func (s *AttachmentSigner) urlValidity() time.Duration {
	if s.config.AttachmentURLValidity > 0 {
		return s.config.AttachmentURLValidity
	}
	return 15 * time.Minute
}

func isAbsoluteURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && u.IsAbs() && u.Host != ""
}
