package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ChunkKey is the staging location for one chunk. Deterministic per
// (session, index) so client retries overwrite in place.
func ChunkKey(sessionID string, index int) string {
	return fmt.Sprintf("staging/%s/chunk_%d", sessionID, index)
}

// StagingPrefix covers all staged chunks of a session.
func StagingPrefix(sessionID string) string {
	return fmt.Sprintf("staging/%s/", sessionID)
}

// ArtifactKey is the final location of a merged artifact.
func ArtifactKey(artifactID string) string {
	return fmt.Sprintf("artifacts/%s", artifactID)
}

type Client struct {
	s3Client  *s3.Client
	bucket    string
	presigner *s3.PresignClient
}

func NewClient(ctx context.Context, region, bucket, accessKey, secretKey, endpoint string) (*Client, error) {
	var cfg aws.Config
	var err error

	if accessKey != "" && secretKey != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
	} else if os.Getenv("ECS_CONTAINER_METADATA_URI_V4") != "" {
		cfg, err = config.LoadDefaultConfig(ctx)
	} else {
		err = fmt.Errorf("no AWS credentials provided")
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	presigner := s3.NewPresignClient(s3Client)

	return &Client{
		s3Client:  s3Client,
		bucket:    bucket,
		presigner: presigner,
	}, nil
}

// PutObject writes one object. ContentLength is set explicitly so bodies
// that are not seekable (pipes) still upload.
func (c *Client) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	_, err := c.s3Client.PutObject(ctx, input)
	return err
}

// GetObject opens an object for streaming. Caller closes the reader.
func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return result.Body, nil
}

// HeadObjectSize returns the stored size of an object, or -1 with a nil
// error when the object does not exist.
func (c *Client) HeadObjectSize(ctx context.Context, key string) (int64, error) {
	result, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return aws.ToInt64(result.ContentLength), nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return -1, nil
	}
	return -1, err
}

// StreamMerge concatenates the given objects, in order, into one object
// at finalKey. Chunk bytes flow through an io.Pipe so memory stays
// bounded regardless of artifact size.
func (c *Client) StreamMerge(ctx context.Context, chunkKeys []string, finalKey string, totalSize int64, contentType string) error {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		for _, key := range chunkKeys {
			select {
			case <-ctx.Done():
				pw.CloseWithError(ctx.Err())
				return
			default:
			}

			out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(c.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				pw.CloseWithError(fmt.Errorf("failed to get object %s: %w", key, err))
				return
			}

			_, err = io.Copy(pw, out.Body)
			out.Body.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("failed to copy chunk %s: %w", key, err))
				return
			}
		}
	}()

	if err := c.PutObject(ctx, finalKey, pr, totalSize, contentType); err != nil {
		return fmt.Errorf("failed to put merged object: %w", err)
	}
	return nil
}

// DeleteObject removes a single object.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}

// DeletePrefix removes every object under prefix in batches.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("prefix cannot be empty")
	}

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects for deletion: %w", err)
		}

		if len(page.Contents) == 0 {
			continue
		}

		var objects []s3Types.ObjectIdentifier
		for _, obj := range page.Contents {
			objects = append(objects, s3Types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = c.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &s3Types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
	}

	return nil
}

// PresignGetObject generates a presigned GET URL. The platform pulls the
// artifact from this URL, so the TTL must outlive the submit window.
func (c *Client) PresignGetObject(ctx context.Context, key string, expires time.Duration) (string, error) {
	request, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", err
	}

	return request.URL, nil
}
