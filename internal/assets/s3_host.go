package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	tagKeyApp  = "app"
	tagKeyIdea = "idea"
	keyPrefix  = "ideas/"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config describes the bucket holding idea images.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Tag           string
	Clock         func() time.Time
	Logger        *zap.Logger
}

// S3Host uploads images as S3 objects tagged with the application tag and the idea id.
type S3Host struct {
	client        s3API
	bucket        string
	tag           string
	publicBaseURL string
	clock         func() time.Time
	logger        *zap.Logger
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Host builds an S3 client from the configuration. A custom endpoint switches
// to path-style addressing for S3-compatible servers such as MinIO.
func NewS3Host(ctx context.Context, cfg S3Config) (*S3Host, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("assets: bucket is required")
	}
	options := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := loadDefaultAWSConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("assets: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3HostWithClient(client, cfg), nil
}

func newS3HostWithClient(client s3API, cfg S3Config) *S3Host {
	tag := cfg.Tag
	if tag == "" {
		tag = DefaultTag
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publicBaseURL := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if publicBaseURL == "" {
		publicBaseURL = defaultPublicBaseURL(cfg)
	}
	return &S3Host{
		client:        client,
		bucket:        cfg.Bucket,
		tag:           tag,
		publicBaseURL: publicBaseURL,
		clock:         clock,
		logger:        logger,
	}
}

func defaultPublicBaseURL(cfg S3Config) string {
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// Upload stores data under a fresh key and returns the public URL once S3 confirms the write.
func (h *S3Host) Upload(ctx context.Context, data []byte, ideaID string) (Asset, error) {
	if err := validateUpload(data, ideaID); err != nil {
		return Asset{}, err
	}
	key, err := h.newKey()
	if err != nil {
		return Asset{}, fmt.Errorf("assets: key generation: %w", err)
	}

	tagging := url.Values{}
	tagging.Set(tagKeyApp, h.tag)
	tagging.Set(tagKeyIdea, ideaID)

	_, err = h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
		Tagging:     aws.String(tagging.Encode()),
	})
	if err != nil {
		h.logger.Error("asset upload failed",
			zap.String("idea_id", ideaID),
			zap.String("key", key),
			zap.Error(err))
		return Asset{}, fmt.Errorf("assets: put object %s: %w", key, err)
	}
	return Asset{ID: key, URL: h.publicBaseURL + "/" + key, IdeaID: ideaID}, nil
}

// ListByTag pages through the upload prefix and returns objects whose app tag equals tag.
func (h *S3Host) ListByTag(ctx context.Context, tag string) ([]TaggedAsset, error) {
	if tag == "" {
		tag = h.tag
	}
	paginator := s3.NewListObjectsV2Paginator(h.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(h.bucket),
		Prefix: aws.String(keyPrefix),
	})

	result := make([]TaggedAsset, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("assets: list objects: %w", err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			tags, err := h.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
				Bucket: aws.String(h.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("assets: get tagging %s: %w", key, err)
			}
			values := tagValues(tags.TagSet)
			if values[tagKeyApp] != tag {
				continue
			}
			result = append(result, TaggedAsset{AssetID: key, IdeaID: values[tagKeyIdea]})
		}
	}
	return result, nil
}

// Delete removes one object.
func (h *S3Host) Delete(ctx context.Context, assetID string) error {
	if assetID == "" {
		return ErrAssetNotFound
	}
	_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(assetID),
	})
	if err != nil {
		return fmt.Errorf("assets: delete object %s: %w", assetID, err)
	}
	return nil
}

func (h *S3Host) newKey() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	now := h.clock().UTC()
	return fmt.Sprintf("%s%04d/%02d/%s", keyPrefix, now.Year(), int(now.Month()), value.String()), nil
}

func tagValues(tagSet []types.Tag) map[string]string {
	values := make(map[string]string, len(tagSet))
	for _, tag := range tagSet {
		values[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return values
}
